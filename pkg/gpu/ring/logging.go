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

package ring

import (
	logger "github.com/alexzuosh/lite-gpu/pkg/log"
)

var (
	log     = logger.Get("ring")
	details = logger.Get("ring-details")
)

// DumpState logs the state of the ring if ring-details debugging is on.
func (r *Ring) DumpState(prefix string) {
	if !details.DebugEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	details.Debug("%s%s: %d/%d bytes used, room for %d, rptr 0x%x, wptr 0x%x", prefix,
		r.name, r.wptr-r.rptr, r.capacity, r.room(), r.rptr, r.wptr)
	for _, cmd := range r.cmds {
		details.Debug("%s  - %s: engine %d, %d bytes at 0x%x, padding %d", prefix,
			cmd.Fence, cmd.Engine, cmd.Length, cmd.Offset%r.capacity, cmd.Padding)
	}
}
