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

package region

import (
	"fmt"

	logger "github.com/alexzuosh/lite-gpu/pkg/log"
)

var (
	log     = logger.Get("region")
	details = logger.Get("region-details")
)

// DumpState logs the state of the region if region-details debugging is on.
func (r *Region) DumpState(context ...interface{}) {
	if !details.DebugEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.dumpState(formatPrefix(context...))
}

// dumpState logs the state of the region, the caller must hold the lock.
func (r *Region) dumpState(prefix string) {
	details.Debug("%s%s region %q: %d/%d pages free, largest free range %d", prefix,
		r.domain, r.name, r.nfree, r.capacity, r.largestFree())

	if len(r.free) == 0 {
		details.Debug("%s  no free ranges", prefix)
	}
	for _, f := range r.free {
		details.Debug("%s  - free %s (%s)", prefix, f, prettyPages(f.Count))
	}
	for start, cnt := range r.reserved {
		rng := PageRange{Start: start, Count: cnt}
		details.Debug("%s  - reserved %s (%s)", prefix, rng, prettyPages(cnt))
	}
}

func prettyPages(pages int64) string {
	if pages == 1 {
		return "1 page"
	}
	return fmt.Sprintf("%d pages", pages)
}

func formatPrefix(args ...interface{}) string {
	if len(args) == 0 {
		return ""
	}

	format, ok := args[0].(string)
	if !ok {
		return "%!(region:Bad-Prefix)"
	}

	if len(args) == 1 {
		return format
	}

	return fmt.Sprintf(format, args[1:]...)
}
