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

package klogcontrol

import (
	"strconv"
)

// Config contains the subset of klog settings we allow to be changed
// at runtime. Unset fields leave the corresponding klog flag untouched.
// +k8s:deepcopy-gen=true
type Config struct {
	// +optional
	Logtostderr *bool `json:"logtostderr,omitempty"`
	// +optional
	Alsologtostderr *bool `json:"alsologtostderr,omitempty"`
	// +optional
	Skip_headers *bool `json:"skip_headers,omitempty"`
	// +optional
	Skip_log_headers *bool `json:"skip_log_headers,omitempty"`
	// +optional
	Log_file *string `json:"log_file,omitempty"`
	// +optional
	Log_dir *string `json:"log_dir,omitempty"`
	// +optional
	Stderrthreshold *string `json:"stderrthreshold,omitempty"`
	// +optional
	V *int `json:"v,omitempty"`
}

// GetByFlag returns the value of the field corresponding to the given
// klog flag name, and whether the field was set.
func (c *Config) GetByFlag(name string) (string, bool) {
	if c == nil {
		return "", false
	}

	var (
		b *bool
		s *string
		i *int
	)

	switch name {
	case "logtostderr":
		b = c.Logtostderr
	case "alsologtostderr":
		b = c.Alsologtostderr
	case "skip_headers":
		b = c.Skip_headers
	case "skip_log_headers":
		b = c.Skip_log_headers
	case "log_file":
		s = c.Log_file
	case "log_dir":
		s = c.Log_dir
	case "stderrthreshold":
		s = c.Stderrthreshold
	case "v":
		i = c.V
	}

	switch {
	case b != nil:
		return strconv.FormatBool(*b), true
	case s != nil:
		return *s, true
	case i != nil:
		return strconv.Itoa(*i), true
	}

	return "", false
}
