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
	"slices"
	"sync"
)

// Region manages the free space of a single fixed-size memory region.
type Region struct {
	mu       sync.Mutex
	domain   Domain
	name     string
	capacity int64           // total pages
	free     []PageRange     // free ranges, sorted by start, fully coalesced
	reserved map[int64]int64 // reserved ranges, start -> count
	nfree    int64           // total free pages
	strict   bool            // verify accounting after each mutation
	stats    Counters        // operation counters
}

// Counters count region operations since creation.
type Counters struct {
	Reserves int64 `json:"reserves"`
	Releases int64 `json:"releases"`
	Failures int64 `json:"failures"`
}

// Stats is a point-in-time snapshot of the state of a region.
type Stats struct {
	Domain      Domain `json:"domain"`
	Capacity    int64  `json:"capacity"`
	Free        int64  `json:"free"`
	Reserved    int64  `json:"reserved"`
	LargestFree int64  `json:"largestFree"`
	FreeRanges  int    `json:"freeRanges"`
	Allocations int    `json:"allocations"`
	Counters
}

// Option is an opaque option for a Region.
type Option func(*Region) error

// WithName sets the name used for the region in logs and metrics.
func WithName(name string) Option {
	return func(r *Region) error {
		r.name = name
		return nil
	}
}

// WithStrictChecks turns on accounting verification after every mutation.
// Any detected inconsistency causes a panic.
func WithStrictChecks() Option {
	return func(r *Region) error {
		r.strict = true
		return nil
	}
}

// New creates a region of the given domain with the given number of pages.
func New(domain Domain, pages int64, options ...Option) (*Region, error) {
	if !domain.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDomain, domain)
	}
	if pages <= 0 {
		return nil, fmt.Errorf("%w: region with %d pages", ErrInvalidSize, pages)
	}

	r := &Region{
		domain:   domain,
		name:     domain.String(),
		capacity: pages,
		free:     []PageRange{{Start: 0, Count: pages}},
		reserved: make(map[int64]int64),
		nfree:    pages,
	}

	for _, o := range options {
		if err := o(r); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedOption, err)
		}
	}

	log.Info("created %s region %q with %d pages", r.domain, r.name, r.capacity)

	return r, nil
}

// Domain returns the domain of the region.
func (r *Region) Domain() Domain {
	return r.domain
}

// Name returns the name of the region.
func (r *Region) Name() string {
	return r.name
}

// Capacity returns the total number of pages in the region.
func (r *Region) Capacity() int64 {
	return r.capacity
}

// Free returns the number of free pages in the region.
func (r *Region) Free() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nfree
}

// LargestFree returns the size of the largest contiguous free range.
func (r *Region) LargestFree() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.largestFree()
}

// Reserve reserves a contiguous range of the given number of pages.
// Requests for more pages than the capacity of the region always fail
// with an out-of-space error, whatever the current layout.
func (r *Region) Reserve(pages int64) (PageRange, error) {
	if pages <= 0 {
		return PageRange{}, fmt.Errorf("%w: %d pages", ErrInvalidSize, pages)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if pages > r.capacity {
		r.stats.Failures++
		return PageRange{}, fmt.Errorf("%w: %d pages requested, %s capacity %d pages",
			ErrNoSpace, pages, r.name, r.capacity)
	}

	idx := slices.IndexFunc(r.free, func(f PageRange) bool { return f.Count >= pages })
	if idx < 0 {
		r.stats.Failures++
		return PageRange{}, fmt.Errorf("%w: %d pages requested, %s has %d free, largest %d",
			ErrNoSpace, pages, r.name, r.nfree, r.largestFree())
	}

	rng := PageRange{Start: r.free[idx].Start, Count: pages}
	if r.free[idx].Count == pages {
		r.free = slices.Delete(r.free, idx, idx+1)
	} else {
		r.free[idx].Start += pages
		r.free[idx].Count -= pages
	}

	r.reserved[rng.Start] = rng.Count
	r.nfree -= pages
	r.stats.Reserves++

	log.Debug("%s: reserved %s", r.name, rng)
	r.validateState("Reserve")

	return rng, nil
}

// Release returns a previously reserved range to the region. The range
// must be exactly one that was returned by Reserve and not yet released.
func (r *Region) Release(rng PageRange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cnt, ok := r.reserved[rng.Start]; !ok || cnt != rng.Count {
		r.stats.Failures++
		return fmt.Errorf("%w: %s in %s", ErrUnknownRange, rng, r.name)
	}

	delete(r.reserved, rng.Start)
	r.insertFree(rng)
	r.nfree += rng.Count
	r.stats.Releases++

	log.Debug("%s: released %s", r.name, rng)
	r.validateState("Release")

	return nil
}

// IsReserved returns true if the range is currently reserved as a whole.
func (r *Region) IsReserved(rng PageRange) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cnt, ok := r.reserved[rng.Start]
	return ok && cnt == rng.Count
}

// FreeRanges returns a copy of the current free list.
func (r *Region) FreeRanges() []PageRange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.free)
}

// Stats returns a snapshot of the state of the region.
func (r *Region) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Domain:      r.domain,
		Capacity:    r.capacity,
		Free:        r.nfree,
		Reserved:    r.capacity - r.nfree,
		LargestFree: r.largestFree(),
		FreeRanges:  len(r.free),
		Allocations: len(r.reserved),
		Counters:    r.stats,
	}
}

// Validate checks the accounting invariants of the region.
func (r *Region) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validate()
}

// Close checks that the region has no reservations left. A region with
// reservations cannot be torn down without leaking or double-freeing.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.reserved) != 0 {
		return fmt.Errorf("%w: %s has %d reservations, %d pages", ErrBusy,
			r.name, len(r.reserved), r.capacity-r.nfree)
	}

	log.Info("closed %s region %q", r.domain, r.name)
	return nil
}

// insertFree inserts the range into the free list, merging it with
// adjacent free ranges.
func (r *Region) insertFree(rng PageRange) {
	idx, _ := slices.BinarySearchFunc(r.free, rng.Start, func(f PageRange, start int64) int {
		switch {
		case f.Start < start:
			return -1
		case f.Start > start:
			return 1
		}
		return 0
	})

	mergePrev := idx > 0 && r.free[idx-1].End() == rng.Start
	mergeNext := idx < len(r.free) && rng.End() == r.free[idx].Start

	switch {
	case mergePrev && mergeNext:
		r.free[idx-1].Count += rng.Count + r.free[idx].Count
		r.free = slices.Delete(r.free, idx, idx+1)
	case mergePrev:
		r.free[idx-1].Count += rng.Count
	case mergeNext:
		r.free[idx].Start = rng.Start
		r.free[idx].Count += rng.Count
	default:
		r.free = slices.Insert(r.free, idx, rng)
	}
}

func (r *Region) largestFree() int64 {
	largest := int64(0)
	for _, f := range r.free {
		if f.Count > largest {
			largest = f.Count
		}
	}
	return largest
}

func (r *Region) validate() error {
	var (
		nfree    int64
		reserved int64
		prev     = PageRange{Start: -1}
	)

	for _, f := range r.free {
		if f.IsEmpty() {
			return fmt.Errorf("%w: empty free range %s", ErrCorrupted, f)
		}
		if f.Start < 0 || f.End() > r.capacity {
			return fmt.Errorf("%w: free range %s out of bounds", ErrCorrupted, f)
		}
		if prev.Start >= 0 && prev.End() >= f.Start {
			return fmt.Errorf("%w: free ranges %s and %s overlap or touch", ErrCorrupted, prev, f)
		}
		nfree += f.Count
		prev = f
	}

	for start, cnt := range r.reserved {
		rng := PageRange{Start: start, Count: cnt}
		if rng.IsEmpty() || start < 0 || rng.End() > r.capacity {
			return fmt.Errorf("%w: reserved range %s out of bounds", ErrCorrupted, rng)
		}
		for _, f := range r.free {
			if f.Overlaps(rng) {
				return fmt.Errorf("%w: reserved range %s overlaps free %s", ErrCorrupted, rng, f)
			}
		}
		reserved += cnt
	}

	if nfree != r.nfree {
		return fmt.Errorf("%w: free list has %d pages, accounted %d", ErrCorrupted, nfree, r.nfree)
	}
	if nfree+reserved != r.capacity {
		return fmt.Errorf("%w: free %d + reserved %d != capacity %d", ErrCorrupted,
			nfree, reserved, r.capacity)
	}

	return nil
}

func (r *Region) validateState(where string) {
	if !r.strict {
		return
	}
	if err := r.validate(); err != nil {
		r.dumpState(where)
		log.Panic("%s: %s: %v", r.name, where, err)
	}
}
