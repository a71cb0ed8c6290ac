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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1/device"
	"github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1/log"
)

const (
	// GroupVersion is the API version of the configuration.
	GroupVersion = "config.lite-gpu.io/v1alpha1"
	// Kind is the kind of the configuration.
	Kind = "LiteGPU"
)

// LiteGPU represents the configuration of a lite-gpu daemon.
type LiteGPU struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec LiteGPUSpec `json:"spec"`
}

// LiteGPUSpec describes a lite-gpu daemon.
type LiteGPUSpec struct {
	// +optional
	Device device.Config `json:"device,omitempty"`
	// +optional
	Log log.Config `json:"log,omitempty"`
	// +optional
	Instrumentation instrumentation.Config `json:"instrumentation,omitempty"`
}
