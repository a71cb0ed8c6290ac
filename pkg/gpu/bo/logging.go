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

package bo

import (
	logger "github.com/alexzuosh/lite-gpu/pkg/log"
)

var (
	log     = logger.Get("bo")
	details = logger.Get("bo-details")
)

// DumpObjects logs all live objects if bo-details debugging is on.
func (m *Manager) DumpObjects(prefix string) {
	if !details.DebugEnabled() {
		return
	}

	s := m.Stats()
	details.Debug("%s%d objects, %d mapped, %d created, %d destroyed, %d failed", prefix,
		s.Objects, s.Mapped, s.Created, s.Destroyed, s.Failed)

	m.ForeachObject(func(obj *Object) bool {
		offset, mapped := obj.MappedOffset()
		if mapped {
			details.Debug("%s  - %s, %d references, offset 0x%x", prefix, obj, obj.Refs(), offset)
		} else {
			details.Debug("%s  - %s, %d references", prefix, obj, obj.Refs())
		}
		return true
	})

	for _, d := range m.placement {
		m.regions[d].DumpState(prefix)
	}
}
