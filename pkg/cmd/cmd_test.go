// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"bytes"
	"os"
	"testing"

	"github.com/kami-zh/go-capturer"
	"github.com/pingcap/tiactor/pkg/leakutil"
	"github.com/pingcap/tiactor/pkg/version"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	leakutil.SetUpLeakTest(m)
}

func TestVersionCommand(t *testing.T) {
	cmd := NewCmd()
	cmd.AddCommand(newCmdVersion())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.Nil(t, cmd.Execute())
	require.Equal(t, version.GetRawInfo(), out.String())
}

func TestVersionCommandWritesStdout(t *testing.T) {
	out := capturer.CaptureStdout(func() {
		cmd := NewCmd()
		cmd.SetOut(os.Stdout)
		cmd.AddCommand(newCmdVersion())
		cmd.SetArgs([]string{"version"})
		require.Nil(t, cmd.Execute())
	})
	require.Contains(t, out, "Release Version: "+version.ReleaseVersion)
	require.Contains(t, out, "Go Version: "+version.GoVersion)
}
