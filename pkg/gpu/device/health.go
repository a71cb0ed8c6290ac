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

package device

import (
	"github.com/alexzuosh/lite-gpu/pkg/healthz"
)

// HealthCheck checks the accounting invariants of the device.
func (d *Device) HealthCheck() (healthz.Status, error) {
	if !d.IsAttached() {
		return healthz.NonFunctional, ErrDetached
	}
	if err := d.Validate(); err != nil {
		return healthz.NonFunctional, err
	}
	return healthz.Healthy, nil
}

// RegisterHealthCheck registers the health check of the device.
func (d *Device) RegisterHealthCheck(c *healthz.Checker) error {
	return c.Register("device/"+d.name, d.HealthCheck)
}
