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
	logger "github.com/alexzuosh/lite-gpu/pkg/log"
)

var (
	log     = logger.Get("device")
	details = logger.Get("device-details")
)

// DumpState logs the state of the device if device-details debugging is on.
func (d *Device) DumpState(prefix string) {
	if !details.DebugEnabled() {
		return
	}

	s := d.Stats()
	details.Debug("%sdevice %s: %d clients, %d buffer objects", prefix, d.name,
		s.Clients, s.Objects.Objects)
	for _, r := range s.Regions {
		details.Debug("%s  - %s: %d/%d pages free, largest free range %d in %d ranges", prefix,
			r.Domain, r.Free, r.Capacity, r.LargestFree, r.FreeRanges)
	}
	details.Debug("%s  - ring: %d/%d bytes used, %d commands pending", prefix,
		s.Ring.Used, s.Ring.Capacity, s.Ring.Pending)

	d.objects.DumpObjects(prefix + "  ")
	d.ring.DumpState(prefix + "  ")
}
