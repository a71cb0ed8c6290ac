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

package log_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	cfgapi "github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1/log"
	klogcfg "github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1/log/klogcontrol"
	. "github.com/alexzuosh/lite-gpu/pkg/log"
)

func TestValidateKlog(t *testing.T) {
	type testCase struct {
		name string
		cfg  *klogcfg.Config
		fail bool
	}

	for _, tc := range []*testCase{
		{
			name: "nil",
		},
		{
			name: "empty",
			cfg:  &klogcfg.Config{},
		},
		{
			name: "verbosity",
			cfg:  &klogcfg.Config{V: ptr(3)},
		},
		{
			name: "negative verbosity",
			cfg:  &klogcfg.Config{V: ptr(-1)},
			fail: true,
		},
		{
			name: "named threshold",
			cfg:  &klogcfg.Config{Stderrthreshold: ptr("error")},
		},
		{
			name: "numeric threshold",
			cfg:  &klogcfg.Config{Stderrthreshold: ptr("1")},
		},
		{
			name: "unknown threshold",
			cfg:  &klogcfg.Config{Stderrthreshold: ptr("LOUD")},
			fail: true,
		},
		{
			name: "threshold out of range",
			cfg:  &klogcfg.Config{Stderrthreshold: ptr("4")},
			fail: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateKlog(tc.cfg)
			if tc.fail {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfigureKlog(t *testing.T) {
	t.Cleanup(func() {
		require.NoError(t, Configure(&cfgapi.Config{
			Klog: klogcfg.Config{
				V:            ptr(0),
				Skip_headers: ptr(false),
			},
		}))
	})

	require.NoError(t, Configure(&cfgapi.Config{
		Klog: klogcfg.Config{
			V:            ptr(4),
			Skip_headers: ptr(true),
		},
	}))

	settings := KlogSettings()
	require.Equal(t, "4", settings["v"])
	require.Equal(t, "true", settings["skip_headers"])
	require.True(t, bool(klog.V(4).Enabled()))
	require.False(t, bool(klog.V(5).Enabled()))

	// a rejected configuration leaves klog untouched
	require.Error(t, Configure(&cfgapi.Config{
		Klog: klogcfg.Config{
			V:               ptr(1),
			Stderrthreshold: ptr("LOUD"),
		},
	}))
	require.Equal(t, "4", KlogSettings()["v"])
	require.True(t, bool(klog.V(4).Enabled()))
}

func ptr[T any](v T) *T {
	return &v
}
