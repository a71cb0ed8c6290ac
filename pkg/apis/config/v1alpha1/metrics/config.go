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

package metrics

// Config provides runtime configuration for metrics collection.
type Config struct {
	// Enabled lists globs of metrics groups or collectors to collect.
	// +optional
	// +kubebuilder:example={"gpu","standard"}
	Enabled []string `json:"enabled,omitempty"`
	// Polled lists globs of collectors to collect periodically. Scrapes
	// of polled collectors return the result of the last poll.
	// +optional
	Polled []string `json:"polled,omitempty"`
}
