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
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/alexzuosh/lite-gpu/pkg/gpu/errdefs"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/region"
)

const (
	// DefaultPageSize is the default page size in bytes.
	DefaultPageSize = 4096
	// OffsetBase is the first mmap offset handed out by a manager. It
	// keeps mmap tokens clear of offsets a driver uses for other things.
	OffsetBase = uint64(1) << 32
)

// Manager manages the lifecycle and placement of buffer objects.
type Manager struct {
	mu        sync.RWMutex
	pageSize  int64
	regions   map[region.Domain]*region.Region
	placement []region.Domain
	offsets   *region.Region
	objects   map[ID]*Object
	byOffset  map[int64]*Object // offset space start page -> object
	maxLive   int
	closed    bool
	strict    bool
	nextID    atomic.Uint64
	created   atomic.Int64
	destroyed atomic.Int64
	failed    atomic.Int64
}

// Option is an opaque option for a Manager.
type Option func(*Manager) error

// WithRegions sets the regions buffer objects are placed in. At most one
// region per domain is allowed.
func WithRegions(regions ...*region.Region) Option {
	return func(m *Manager) error {
		for _, r := range regions {
			if !r.Domain().IsPlacement() {
				return fmt.Errorf("%s is not a placement domain", r.Domain())
			}
			if _, ok := m.regions[r.Domain()]; ok {
				return fmt.Errorf("multiple %s regions", r.Domain())
			}
			m.regions[r.Domain()] = r
		}
		return nil
	}
}

// WithPlacement sets the default placement order, the preferred domain first.
func WithPlacement(domains ...region.Domain) Option {
	return func(m *Manager) error {
		for _, d := range domains {
			if !d.IsPlacement() {
				return fmt.Errorf("%s is not a placement domain", d)
			}
		}
		m.placement = slices.Clone(domains)
		return nil
	}
}

// WithOffsetSpace sets the region used to hand out mmap offsets.
func WithOffsetSpace(r *region.Region) Option {
	return func(m *Manager) error {
		if r.Domain() != region.DomainOffset {
			return fmt.Errorf("%s is not an offset space", r.Domain())
		}
		m.offsets = r
		return nil
	}
}

// WithPageSize sets the page size in bytes.
func WithPageSize(size int64) Option {
	return func(m *Manager) error {
		if size <= 0 || size&(size-1) != 0 {
			return fmt.Errorf("invalid page size %d, must be a power of 2", size)
		}
		m.pageSize = size
		return nil
	}
}

// WithObjectLimit limits the number of live buffer objects.
func WithObjectLimit(limit int) Option {
	return func(m *Manager) error {
		m.maxLive = limit
		return nil
	}
}

// WithStrictChecks makes lifecycle invariant violations panic instead of
// returning an internal error.
func WithStrictChecks() Option {
	return func(m *Manager) error {
		m.strict = true
		return nil
	}
}

// CreateOption is an option for creating a single buffer object.
type CreateOption func(*createOptions)

type createOptions struct {
	domains      region.DomainMask
	keepWhenIdle bool
}

// WithDomains restricts placement to the given domains. The default
// placement order of the manager is kept. A zero mask means no restriction.
func WithDomains(mask region.DomainMask) CreateOption {
	return func(o *createOptions) {
		o.domains = mask
	}
}

// WithoutDestroyOnZero keeps the object and its pages when the last
// reference is dropped. Such idle objects are torn down by
// DestroyIfUnreferenced, or by closing the manager.
func WithoutDestroyOnZero() CreateOption {
	return func(o *createOptions) {
		o.keepWhenIdle = true
	}
}

// Stats is a snapshot of the buffer objects of a manager.
type Stats struct {
	Objects   int                     `json:"objects"`
	Bytes     map[region.Domain]int64 `json:"bytes"`
	Count     map[region.Domain]int   `json:"count"`
	Mapped    int                     `json:"mapped"`
	Created   int64                   `json:"created"`
	Destroyed int64                   `json:"destroyed"`
	Failed    int64                   `json:"failed"`
}

// NewManager creates a buffer object manager with the given options.
func NewManager(options ...Option) (*Manager, error) {
	m := &Manager{
		pageSize: DefaultPageSize,
		regions:  make(map[region.Domain]*region.Region),
		objects:  make(map[ID]*Object),
		byOffset: make(map[int64]*Object),
	}

	for _, o := range options {
		if err := o(m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedOption, err)
		}
	}

	if len(m.regions) == 0 {
		return nil, fmt.Errorf("%w: no regions", ErrFailedOption)
	}

	if len(m.placement) == 0 {
		for _, d := range region.DomainMaskAll.Slice() {
			if _, ok := m.regions[d]; ok {
				m.placement = append(m.placement, d)
			}
		}
	}

	for _, d := range m.placement {
		if _, ok := m.regions[d]; !ok {
			return nil, fmt.Errorf("%w: placement %s has no region", ErrFailedOption, d)
		}
	}

	log.Info("buffer object manager with placement %v, page size %d", m.placement, m.pageSize)

	return m, nil
}

// PageSize returns the page size of the manager in bytes.
func (m *Manager) PageSize() int64 {
	return m.pageSize
}

// Region returns the region for the given domain.
func (m *Manager) Region(d region.Domain) (*region.Region, bool) {
	r, ok := m.regions[d]
	return r, ok
}

// Placement returns the default placement order.
func (m *Manager) Placement() []region.Domain {
	return slices.Clone(m.placement)
}

// Create creates a buffer object of at least the given size in bytes.
// The object is returned holding its creation reference. The domains
// of the placement policy are tried in order, falling back to the next
// one when a domain is out of space. On failure no reservation survives.
func (m *Manager) Create(size int64, options ...CreateOption) (obj *Object, retErr error) {
	opts := &createOptions{}
	for _, o := range options {
		o(opts)
	}

	pages, err := m.sizeToPages(size)
	if err != nil {
		m.failed.Add(1)
		return nil, err
	}

	order := m.placementFor(opts.domains)
	if len(order) == 0 {
		m.failed.Add(1)
		return nil, fmt.Errorf("%w: %s", ErrInvalidDomain, opts.domains)
	}

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	var (
		rgn  *region.Region
		rng  region.PageRange
		errs []error
	)

	for _, d := range order {
		r := m.regions[d]
		rng, err = r.Reserve(pages)
		if err == nil {
			rgn = r
			break
		}
		if !errdefs.IsOutOfSpace(err) {
			m.failed.Add(1)
			return nil, err
		}
		log.Debug("no space for %d pages in %s, trying next domain", pages, d)
		errs = append(errs, err)
	}

	if rgn == nil {
		m.failed.Add(1)
		return nil, fmt.Errorf("%w: %d bytes (%d pages): %w", ErrNoSpace, size, pages,
			errors.Join(errs...))
	}

	defer func() {
		if retErr != nil {
			m.failed.Add(1)
			if err := rgn.Release(rng); err != nil {
				log.Error("failed to roll back %s reservation %s: %v", rgn.Domain(), rng, err)
				retErr = m.fault(fmt.Errorf("%w: rollback failed: %w (after %w)",
					ErrInternalError, err, retErr))
			}
		}
	}()

	obj = &Object{
		mgr:         m,
		size:        pages * m.pageSize,
		requested:   size,
		domain:      rgn.Domain(),
		pages:       rng,
		autoDestroy: !opts.keepWhenIdle,
	}
	obj.refs.Store(1)

	if err := m.insert(obj); err != nil {
		return nil, err
	}

	m.created.Add(1)
	log.Debug("created %s", obj)

	return obj, nil
}

// Lookup returns the object with the given ID without taking a reference.
func (m *Manager) Lookup(id ID) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: #%d", ErrUnknownObject, id)
	}
	return obj, nil
}

// Acquire takes a reference to the object with the given ID.
func (m *Manager) Acquire(id ID) (*Object, error) {
	obj, err := m.Lookup(id)
	if err != nil {
		return nil, err
	}
	if err := obj.Get(); err != nil {
		return nil, err
	}
	return obj, nil
}

// Release drops a reference to the object with the given ID.
func (m *Manager) Release(id ID) error {
	obj, err := m.Lookup(id)
	if err != nil {
		return err
	}
	return obj.Put()
}

// DestroyIfUnreferenced tears down an idle object, one created with
// WithoutDestroyOnZero whose references have all been dropped. It
// returns false if the object is still referenced.
func (m *Manager) DestroyIfUnreferenced(id ID) (bool, error) {
	obj, err := m.Lookup(id)
	if err != nil {
		return false, err
	}

	if !obj.refs.CompareAndSwap(0, -1) {
		return false, nil
	}

	return true, m.destroy(obj)
}

// LookupOffset returns the object mapped at the given mmap offset
// without taking a reference.
func (m *Manager) LookupOffset(offset uint64) (*Object, error) {
	if offset < OffsetBase || (offset-OffsetBase)%uint64(m.pageSize) != 0 {
		return nil, fmt.Errorf("%w: 0x%x", ErrUnknownOffset, offset)
	}

	start := int64((offset - OffsetBase) / uint64(m.pageSize))

	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.byOffset[start]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%x", ErrUnknownOffset, offset)
	}
	return obj, nil
}

// ForeachObject calls fn for each live object, in ID order, until fn
// returns false.
func (m *Manager) ForeachObject(fn func(*Object) bool) {
	m.mu.RLock()
	objects := make([]*Object, 0, len(m.objects))
	for _, obj := range m.objects {
		objects = append(objects, obj)
	}
	m.mu.RUnlock()

	slices.SortFunc(objects, func(a, b *Object) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})

	for _, obj := range objects {
		if !fn(obj) {
			return
		}
	}
}

// Stats returns a snapshot of the live objects of the manager.
func (m *Manager) Stats() Stats {
	s := Stats{
		Bytes:     make(map[region.Domain]int64),
		Count:     make(map[region.Domain]int),
		Created:   m.created.Load(),
		Destroyed: m.destroyed.Load(),
		Failed:    m.failed.Load(),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s.Objects = len(m.objects)
	s.Mapped = len(m.byOffset)
	for _, obj := range m.objects {
		s.Bytes[obj.domain] += obj.size
		s.Count[obj.domain]++
	}

	return s
}

// Close stops the creation of new objects and tears down idle objects.
// It fails if any object is still referenced. Close can be retried
// once the remaining references are dropped.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	var busy []string
	m.ForeachObject(func(obj *Object) bool {
		destroyed, err := m.DestroyIfUnreferenced(obj.id)
		switch {
		case err != nil && !errdefs.IsNotFound(err):
			busy = append(busy, fmt.Sprintf("%s: %v", obj, err))
		case err == nil && !destroyed && !obj.IsDestroyed():
			busy = append(busy, fmt.Sprintf("%s: %d references", obj, obj.Refs()))
		}
		return true
	})

	if len(busy) > 0 {
		return m.fault(fmt.Errorf("%w: %v", ErrLiveObjects, busy))
	}

	log.Info("buffer object manager closed")
	return nil
}

func (m *Manager) sizeToPages(size int64) (int64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("%w: %d bytes", ErrInvalidSize, size)
	}
	if size > math.MaxInt64-m.pageSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrNoSpace, size)
	}
	return (size + m.pageSize - 1) / m.pageSize, nil
}

func (m *Manager) placementFor(mask region.DomainMask) []region.Domain {
	if mask == 0 {
		return m.placement
	}

	order := make([]region.Domain, 0, len(m.placement))
	for _, d := range m.placement {
		if mask.Contains(d) {
			order = append(order, d)
		}
	}
	return order
}

// insert publishes a new object in the manager. The object limit and
// the closed state are checked here, under the lock, so concurrent
// creators cannot race past them.
func (m *Manager) insert(obj *Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.maxLive > 0 && len(m.objects) >= m.maxLive {
		return fmt.Errorf("%w: limit of %d reached", ErrTooMany, m.maxLive)
	}

	obj.id = ID(m.nextID.Add(1))
	m.objects[obj.id] = obj

	return nil
}

// destroy tears down an object whose reference count has been claimed
// by the caller. It drops the mapping, releases the pages, and only
// then forgets the object.
func (m *Manager) destroy(obj *Object) error {
	var errs []error

	obj.mu.Lock()
	if obj.mapping != nil {
		m.mu.Lock()
		delete(m.byOffset, obj.mapping.Start)
		m.mu.Unlock()
		if err := m.offsets.Release(*obj.mapping); err != nil {
			errs = append(errs, err)
		}
		obj.mapping = nil
	}
	obj.mu.Unlock()

	if err := m.regions[obj.domain].Release(obj.pages); err != nil {
		errs = append(errs, err)
	}

	m.mu.Lock()
	delete(m.objects, obj.id)
	m.mu.Unlock()

	m.destroyed.Add(1)

	if len(errs) > 0 {
		return m.fault(fmt.Errorf("%w: destroying %s: %w", ErrInternalError, obj, errors.Join(errs...)))
	}

	log.Debug("destroyed %s", obj)
	return nil
}

func (m *Manager) mapOffset(obj *Object) (uint64, error) {
	if m.offsets == nil {
		return 0, ErrNotMappable
	}

	obj.mu.Lock()
	defer obj.mu.Unlock()

	if obj.refs.Load() < 0 {
		return 0, fmt.Errorf("%w: %s is destroyed", ErrUnknownObject, obj)
	}

	if obj.mapping != nil {
		return m.offsetOf(*obj.mapping), nil
	}

	rng, err := m.offsets.Reserve(obj.pages.Count)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrNoOffsetSpace, obj, err)
	}

	m.mu.Lock()
	m.byOffset[rng.Start] = obj
	m.mu.Unlock()

	obj.mapping = &rng
	log.Debug("mapped %s at offset 0x%x", obj, m.offsetOf(rng))

	return m.offsetOf(rng), nil
}

func (m *Manager) offsetOf(rng region.PageRange) uint64 {
	return OffsetBase + uint64(rng.Start)*uint64(m.pageSize)
}

// fault reports a lifecycle invariant violation.
func (m *Manager) fault(err error) error {
	if m.strict {
		log.Panic("%v", err)
	}
	log.Error("%v", err)
	return err
}
