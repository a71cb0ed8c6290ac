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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alexzuosh/lite-gpu/pkg/gpu/region"
)

// ID is the manager-wide identifier of a buffer object.
type ID uint64

// Object is a reference-counted buffer object with backing pages in one
// region. An Object carries a direct reference to its Manager.
type Object struct {
	id          ID
	mgr         *Manager
	size        int64            // size in bytes, page aligned
	requested   int64            // size in bytes as requested
	domain      region.Domain    // resident domain
	pages       region.PageRange // reserved pages within the domain
	autoDestroy bool             // destroy when the last reference is dropped

	// refs is the reference count, -1 once the object is torn down.
	// Objects with autoDestroy set go from 1 straight to -1, so they
	// are never observable with 0 references and live backing pages.
	refs atomic.Int32

	mu      sync.Mutex
	mapping *region.PageRange // reserved range in the mmap offset space
}

// ID returns the ID of the object.
func (o *Object) ID() ID {
	return o.id
}

// Size returns the page-aligned size of the object in bytes.
func (o *Object) Size() int64 {
	return o.size
}

// RequestedSize returns the size the object was created with.
func (o *Object) RequestedSize() int64 {
	return o.requested
}

// Domain returns the domain the object is resident in.
func (o *Object) Domain() region.Domain {
	return o.domain
}

// Pages returns the page range reserved for the object.
func (o *Object) Pages() region.PageRange {
	return o.pages
}

// DestroyOnZero returns true if the object is torn down by its last release.
func (o *Object) DestroyOnZero() bool {
	return o.autoDestroy
}

// Refs returns the current number of references to the object.
func (o *Object) Refs() int32 {
	if n := o.refs.Load(); n > 0 {
		return n
	}
	return 0
}

// IsDestroyed returns true once the object has been torn down.
func (o *Object) IsDestroyed() bool {
	return o.refs.Load() < 0
}

// Get takes an additional reference to the object. It fails if the
// object is already being torn down.
func (o *Object) Get() error {
	for {
		n := o.refs.Load()
		if n < 0 || (n == 0 && o.autoDestroy) {
			return fmt.Errorf("%w: %s is destroyed", ErrUnknownObject, o)
		}
		if o.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Put drops a reference to the object. The caller dropping the last
// reference of an auto-destroyed object tears it down synchronously.
func (o *Object) Put() error {
	for {
		n := o.refs.Load()
		if n <= 0 {
			return o.mgr.fault(fmt.Errorf("%w: %s has %d references", ErrUnreferenced, o, n))
		}

		next := n - 1
		if next == 0 && o.autoDestroy {
			next = -1
		}

		if !o.refs.CompareAndSwap(n, next) {
			continue
		}

		if next < 0 {
			return o.mgr.destroy(o)
		}
		if next == 0 {
			log.Debug("%s is now idle", o)
		}
		return nil
	}
}

// MapOffset returns the mmap offset for the object, reserving a range
// in the offset space of the manager on first use.
func (o *Object) MapOffset() (uint64, error) {
	if o.IsDestroyed() {
		return 0, fmt.Errorf("%w: %s is destroyed", ErrUnknownObject, o)
	}
	return o.mgr.mapOffset(o)
}

// MappedOffset returns the mmap offset of the object, if it has one.
func (o *Object) MappedOffset() (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mapping == nil {
		return 0, false
	}
	return o.mgr.offsetOf(*o.mapping), true
}

// String returns a string representation of the object.
func (o *Object) String() string {
	return fmt.Sprintf("bo#%d<%s %s, %d bytes>", o.id, o.domain, o.pages, o.size)
}
