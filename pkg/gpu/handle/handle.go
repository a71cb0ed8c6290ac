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

// Package handle implements per-client handle tables. A table binds small
// integer handles to reference-counted objects and holds one reference per
// live handle. Handle values are allocated in increasing order and are
// never reissued by the same table, so a stale handle can never resolve
// to another object.
package handle

import (
	"math"
	"slices"
	"sync"

	"github.com/hashicorp/go-multierror"

	logger "github.com/alexzuosh/lite-gpu/pkg/log"
)

// Handle is a client-scoped object handle. The zero Handle is never valid.
type Handle uint32

// Object is a reference-counted object that can be published in a table.
type Object interface {
	// Get takes a reference to the object.
	Get() error
	// Put drops a reference to the object.
	Put() error
}

// Table maps handles to objects for a single client.
type Table[T Object] struct {
	mu      sync.RWMutex
	name    string
	entries map[Handle]T
	last    Handle
	closed  bool
}

var log = logger.Get("handle")

// NewTable creates a new, empty handle table.
func NewTable[T Object](name string) *Table[T] {
	return &Table[T]{
		name:    name,
		entries: make(map[Handle]T),
	}
}

// Name returns the name of the table.
func (t *Table[T]) Name() string {
	return t.name
}

// Publish takes a reference to obj and binds it to a new handle.
func (t *Table[T]) Publish(obj T) (Handle, error) {
	if err := obj.Get(); err != nil {
		return 0, err
	}

	t.mu.Lock()
	h, err := t.insert(obj)
	t.mu.Unlock()

	if err != nil {
		if putErr := obj.Put(); putErr != nil {
			return 0, multierror.Append(err, putErr)
		}
		return 0, err
	}

	log.Debug("%s: published handle %d", t.name, h)
	return h, nil
}

func (t *Table[T]) insert(obj T) (Handle, error) {
	if t.closed {
		return 0, ErrClosed
	}
	if t.last == math.MaxUint32 {
		return 0, ErrExhausted
	}

	t.last++
	t.entries[t.last] = obj

	return t.last, nil
}

// Lookup returns the object bound to a handle. It does not take a
// reference, callers which need the object to outlive the handle must
// take one themselves.
func (t *Table[T]) Lookup(h Handle) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	obj, ok := t.entries[h]
	if !ok {
		var none T
		return none, ErrUnknownHandle
	}

	return obj, nil
}

// Close unbinds a handle and drops its reference to the object.
func (t *Table[T]) Close(h Handle) error {
	t.mu.Lock()
	obj, ok := t.entries[h]
	delete(t.entries, h)
	t.mu.Unlock()

	if !ok {
		return ErrUnknownHandle
	}

	log.Debug("%s: closed handle %d", t.name, h)
	return obj.Put()
}

// CloseAll unbinds all handles, dropping their references, and closes
// the table for further publishing. Handles are closed in increasing
// order. All handles are closed even if dropping some reference fails.
func (t *Table[T]) CloseAll() error {
	t.mu.Lock()
	t.closed = true
	entries := t.entries
	t.entries = make(map[Handle]T)
	t.mu.Unlock()

	handles := make([]Handle, 0, len(entries))
	for h := range entries {
		handles = append(handles, h)
	}
	slices.Sort(handles)

	var result *multierror.Error
	for _, h := range handles {
		if err := entries[h].Put(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if len(handles) > 0 {
		log.Debug("%s: closed all %d handles", t.name, len(handles))
	}

	return result.ErrorOrNil()
}

// Len returns the number of live handles.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Handles returns the live handles in increasing order.
func (t *Table[T]) Handles() []Handle {
	t.mu.RLock()
	handles := make([]Handle, 0, len(t.entries))
	for h := range t.entries {
		handles = append(handles, h)
	}
	t.mu.RUnlock()

	slices.Sort(handles)
	return handles
}
