// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexzuosh/lite-gpu/pkg/config"
	"github.com/alexzuosh/lite-gpu/pkg/healthz"
	"github.com/alexzuosh/lite-gpu/pkg/metrics"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
apiVersion: config.lite-gpu.io/v1alpha1
kind: LiteGPU
spec:
  device:
    name: test-gpu
    vramPages: 16
    gttPages: 64
`), 0o644))

	type testCase struct {
		name     string
		args     []string
		contains []string
		fail     bool
	}
	for _, tc := range []*testCase{
		{
			name:     "version",
			args:     []string{"version"},
			contains: []string{"lite-gpu unknown", "build: unknown"},
		},
		{
			name:     "default configuration",
			args:     []string{"config"},
			contains: []string{"kind: LiteGPU", "vramPages: 1024"},
		},
		{
			name:     "configuration file",
			args:     []string{"config", "--config", cfgFile},
			contains: []string{"name: test-gpu", "gttPages: 64"},
		},
		{
			name: "missing configuration file",
			args: []string{"config", "--config", filepath.Join(t.TempDir(), "missing.yaml")},
			fail: true,
		},
		{
			name: "exercise",
			args: []string{"exercise", "--config", cfgFile},
			contains: []string{
				"attached test-gpu: VRAM 16/16 pages, GTT 64/64 pages free",
				"created buffer: handle 1, 4096 bytes in VRAM",
				"signalled",
				"closed client: 0 buffer objects, VRAM 16/16 pages free GTT 64/64 pages free",
				"detached test-gpu",
			},
		},
		{
			name: "exercise in GTT",
			args: []string{"exercise", "--config", cfgFile, "--domains", "2", "--size", "10000"},
			contains: []string{
				"created buffer: handle 1, 12288 bytes in GTT",
			},
		},
		{
			name: "exercise out of space",
			args: []string{"exercise", "--config", cfgFile, "--size", "1000000"},
			fail: true,
		},
		{
			name: "unknown command",
			args: []string{"frobnicate"},
			fail: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out, err := execute(t, tc.args...)
			if tc.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, s := range tc.contains {
				require.Contains(t, out, s)
			}
		})
	}
}

func TestRun(t *testing.T) {
	cfg := config.Default()
	cfg.Spec.Instrumentation.HTTPEndpoint = "127.0.0.1:0"
	cfg.Spec.Instrumentation.PrometheusExport = true

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	reg := metrics.NewRegistry()
	checker := healthz.NewChecker()

	require.NoError(t, run(ctx, cfg.Spec.Device, cfg.Spec.Instrumentation, reg, checker))
	require.Len(t, reg.Collectors(), 5)

	status, _ := checker.Check()
	require.Equal(t, healthz.NonFunctional, status, "device must be detached after run")
}
