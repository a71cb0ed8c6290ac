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

// Package device is the composition root of a lite-gpu device. Attach
// sets up the memory regions, the buffer object manager and the command
// ring of an independent device instance, Detach tears them down in
// reverse order. Clients opened on a device issue requests through it.
package device

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	devcfg "github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1/device"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/bo"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/region"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/ring"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/uapi"
)

const (
	DefaultDeviceID = 0x4c47
	DefaultGPUFreq  = 1000
	DefaultRingSize = 64 * 1024
)

// Device is an attached lite-gpu device instance.
type Device struct {
	name        string
	deviceID    uint64
	gpuFreq     uint64
	pageSize    int64
	vramPages   int64
	gttPages    int64
	offsetPages int64
	ringSize    int
	engines     int
	placement   []region.Domain
	maxObjects  int
	strict      bool

	vram    *region.Region
	gtt     *region.Region
	offsets *region.Region
	objects *bo.Manager
	ring    *ring.Ring

	mu       sync.Mutex
	attached bool
	clients  map[int]*Client
	nextID   atomic.Int64
}

// Option is an opaque option for attaching a Device.
type Option func(*Device) error

// WithName sets the name of the device.
func WithName(name string) Option {
	return func(d *Device) error {
		d.name = name
		return nil
	}
}

// WithDeviceID sets the reported device ID.
func WithDeviceID(id uint64) Option {
	return func(d *Device) error {
		d.deviceID = id
		return nil
	}
}

// WithGPUFreq sets the reported GPU frequency in MHz.
func WithGPUFreq(mhz uint64) Option {
	return func(d *Device) error {
		d.gpuFreq = mhz
		return nil
	}
}

// WithPageSize sets the page size in bytes.
func WithPageSize(size int64) Option {
	return func(d *Device) error {
		if size <= 0 || size&(size-1) != 0 {
			return fmt.Errorf("invalid page size %d", size)
		}
		d.pageSize = size
		return nil
	}
}

// WithOffsetSpacePages sets the size of the mmap offset space in pages.
func WithOffsetSpacePages(pages int64) Option {
	return func(d *Device) error {
		d.offsetPages = pages
		return nil
	}
}

// WithRingSize sets the capacity of the command ring in bytes.
func WithRingSize(size int) Option {
	return func(d *Device) error {
		d.ringSize = size
		return nil
	}
}

// WithEngines sets the number of engines.
func WithEngines(count int) Option {
	return func(d *Device) error {
		d.engines = count
		return nil
	}
}

// WithPlacement sets the default placement order of buffer objects.
func WithPlacement(domains ...region.Domain) Option {
	return func(d *Device) error {
		d.placement = domains
		return nil
	}
}

// WithObjectLimit limits the number of live buffer objects.
func WithObjectLimit(limit int) Option {
	return func(d *Device) error {
		d.maxObjects = limit
		return nil
	}
}

// WithStrictChecks makes lifecycle invariant violations panic.
func WithStrictChecks() Option {
	return func(d *Device) error {
		d.strict = true
		return nil
	}
}

// Attach attaches a new device with the given VRAM and GTT sizes in pages.
// Every call returns an independent instance.
func Attach(vramPages, gttPages int64, options ...Option) (*Device, error) {
	d := &Device{
		name:      "lite-gpu",
		deviceID:  DefaultDeviceID,
		gpuFreq:   DefaultGPUFreq,
		pageSize:  bo.DefaultPageSize,
		vramPages: vramPages,
		gttPages:  gttPages,
		ringSize:  DefaultRingSize,
		engines:   1,
		placement: []region.Domain{region.DomainVRAM, region.DomainGTT},
		clients:   make(map[int]*Client),
	}

	for _, o := range options {
		if err := o(d); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedOption, err)
		}
	}

	if d.offsetPages == 0 {
		d.offsetPages = vramPages + gttPages
	}

	if err := d.attach(); err != nil {
		return nil, errors.Wrapf(err, "failed to attach device %s", d.name)
	}

	log.Info("attached device %s: %d VRAM pages, %d GTT pages, %d byte pages, %d byte ring",
		d.name, d.vramPages, d.gttPages, d.pageSize, d.ringSize)
	d.DumpState("")

	return d, nil
}

// AttachConfig attaches a new device with the given configuration.
func AttachConfig(cfg *devcfg.Config) (*Device, error) {
	pageSize, err := cfg.PageSizeBytes()
	if err != nil {
		return nil, errors.Wrap(err, "invalid device configuration")
	}
	vram, err := cfg.VRAMPageCount()
	if err != nil {
		return nil, errors.Wrap(err, "invalid device configuration")
	}
	gtt, err := cfg.GTTPageCount()
	if err != nil {
		return nil, errors.Wrap(err, "invalid device configuration")
	}
	ringSize, err := cfg.RingBytes()
	if err != nil {
		return nil, errors.Wrap(err, "invalid device configuration")
	}

	var placement []region.Domain
	for _, name := range cfg.Placement {
		domain, err := region.ParseDomain(name)
		if err != nil {
			return nil, errors.Wrap(err, "invalid device configuration")
		}
		placement = append(placement, domain)
	}

	options := []Option{
		WithPageSize(pageSize),
		WithRingSize(ringSize),
		WithOffsetSpacePages(cfg.OffsetSpacePages),
		WithObjectLimit(cfg.MaxObjects),
	}
	if cfg.Name != "" {
		options = append(options, WithName(cfg.Name))
	}
	if cfg.DeviceID != 0 {
		options = append(options, WithDeviceID(cfg.DeviceID))
	}
	if cfg.GPUFreqMHz != 0 {
		options = append(options, WithGPUFreq(cfg.GPUFreqMHz))
	}
	if cfg.Engines != 0 {
		options = append(options, WithEngines(cfg.Engines))
	}
	if len(placement) > 0 {
		options = append(options, WithPlacement(placement...))
	}
	if cfg.StrictChecks {
		options = append(options, WithStrictChecks())
	}

	return Attach(vram, gtt, options...)
}

// attach initializes the regions, then the buffer object manager, then
// the ring, and finally marks the device ready. Whatever was set up is
// torn down again if a later step fails.
func (d *Device) attach() (retErr error) {
	var regionOpts []region.Option
	if d.strict {
		regionOpts = append(regionOpts, region.WithStrictChecks())
	}

	var created []*region.Region
	defer func() {
		if retErr != nil {
			for i := len(created) - 1; i >= 0; i-- {
				if err := created[i].Close(); err != nil {
					log.Error("%s: failed to close %s region: %v", d.name, created[i].Domain(), err)
				}
			}
		}
	}()

	for _, r := range []struct {
		domain region.Domain
		pages  int64
		ptr    **region.Region
	}{
		{region.DomainVRAM, d.vramPages, &d.vram},
		{region.DomainGTT, d.gttPages, &d.gtt},
		{region.DomainOffset, d.offsetPages, &d.offsets},
	} {
		opts := append([]region.Option{region.WithName(d.name + "/" + r.domain.String())}, regionOpts...)
		rgn, err := region.New(r.domain, r.pages, opts...)
		if err != nil {
			return errors.Wrapf(err, "failed to create %s region", r.domain)
		}
		*r.ptr = rgn
		created = append(created, rgn)
	}

	boOpts := []bo.Option{
		bo.WithRegions(d.vram, d.gtt),
		bo.WithPlacement(d.placement...),
		bo.WithOffsetSpace(d.offsets),
		bo.WithPageSize(d.pageSize),
		bo.WithObjectLimit(d.maxObjects),
	}
	if d.strict {
		boOpts = append(boOpts, bo.WithStrictChecks())
	}

	objects, err := bo.NewManager(boOpts...)
	if err != nil {
		return errors.Wrap(err, "failed to create buffer object manager")
	}

	rng, err := ring.New(d.ringSize, ring.WithName(d.name+"/ring"), ring.WithEngines(d.engines))
	if err != nil {
		if closeErr := objects.Close(); closeErr != nil {
			log.Error("%s: failed to close buffer object manager: %v", d.name, closeErr)
		}
		return errors.Wrap(err, "failed to create command ring")
	}

	d.objects = objects
	d.ring = rng
	d.attached = true

	return nil
}

// Detach tears down the device in the reverse order of attaching it.
// It fails, leaving the device attached, if any client is still open
// or any buffer object is still referenced.
func (d *Device) Detach() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.attached {
		return ErrDetached
	}

	if n := len(d.clients); n > 0 {
		return d.fault(fmt.Errorf("%w: %d clients", ErrClientsOpen, n))
	}

	var live []string
	d.objects.ForeachObject(func(obj *bo.Object) bool {
		if obj.Refs() > 0 {
			live = append(live, obj.String())
		}
		return true
	})
	if len(live) > 0 {
		return d.fault(fmt.Errorf("%w: %v", ErrLiveObjects, live))
	}

	var result *multierror.Error

	if n := d.ring.Close(); n > 0 {
		log.Warn("%s: discarded %d unconsumed commands", d.name, n)
	}
	if err := d.objects.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "failed to close buffer object manager"))
	}
	for _, r := range []*region.Region{d.offsets, d.gtt, d.vram} {
		if err := r.Close(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to close %s region", r.Domain()))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return d.fault(errors.Wrapf(err, "failed to detach device %s", d.name))
	}

	d.attached = false
	log.Info("detached device %s", d.name)

	return nil
}

// IsAttached returns true until the device is detached.
func (d *Device) IsAttached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached
}

// Name returns the name of the device.
func (d *Device) Name() string {
	return d.name
}

// PageSize returns the page size of the device in bytes.
func (d *Device) PageSize() int64 {
	return d.pageSize
}

// Ring returns the command ring of the device.
func (d *Device) Ring() *ring.Ring {
	return d.ring
}

// Objects returns the buffer object manager of the device.
func (d *Device) Objects() *bo.Manager {
	return d.objects
}

// Region returns the region for the given domain.
func (d *Device) Region(domain region.Domain) *region.Region {
	switch domain {
	case region.DomainVRAM:
		return d.vram
	case region.DomainGTT:
		return d.gtt
	case region.DomainOffset:
		return d.offsets
	}
	return nil
}

// NewConsumer creates a stub consumer for the command ring.
func (d *Device) NewConsumer(options ...ring.ConsumerOption) *ring.Consumer {
	return ring.NewConsumer(d.ring, options...)
}

// Param returns the value of a device parameter.
func (d *Device) Param(p uapi.Param) (uint64, error) {
	pages := func(n int64) uint64 {
		return uint64(n) * uint64(d.pageSize)
	}

	switch p {
	case uapi.ParamDeviceID:
		return d.deviceID, nil
	case uapi.ParamGPUFreq:
		return d.gpuFreq, nil
	case uapi.ParamVRAMSize:
		return pages(d.vram.Capacity()), nil
	case uapi.ParamGTTSize:
		return pages(d.gtt.Capacity()), nil
	case uapi.ParamVRAMFree:
		return pages(d.vram.Free()), nil
	case uapi.ParamGTTFree:
		return pages(d.gtt.Free()), nil
	case uapi.ParamPageSize:
		return uint64(d.pageSize), nil
	case uapi.ParamRingSize:
		return uint64(d.ring.Capacity()), nil
	case uapi.ParamEngineCount:
		return uint64(d.ring.Engines()), nil
	}

	return 0, fmt.Errorf("%w: %d", uapi.ErrUnknownParam, uint64(p))
}

// Stats is a snapshot of the state of a device.
type Stats struct {
	Name    string         `json:"name"`
	Regions []region.Stats `json:"regions"`
	Objects bo.Stats       `json:"objects"`
	Ring    ring.Stats     `json:"ring"`
	Clients int            `json:"clients"`
}

// Stats returns a snapshot of the state of the device.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	clients := len(d.clients)
	d.mu.Unlock()

	return Stats{
		Name: d.name,
		Regions: []region.Stats{
			d.vram.Stats(),
			d.gtt.Stats(),
			d.offsets.Stats(),
		},
		Objects: d.objects.Stats(),
		Ring:    d.ring.Stats(),
		Clients: clients,
	}
}

// Validate checks the accounting of all regions and of the ring.
func (d *Device) Validate() error {
	var result *multierror.Error
	for _, r := range []*region.Region{d.vram, d.gtt, d.offsets} {
		if err := r.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := d.ring.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// fault reports an invariant violation.
func (d *Device) fault(err error) error {
	if d.strict {
		log.Panic("%s: %v", d.name, err)
	}
	log.Error("%s: %v", d.name, err)
	return err
}

func sizeToInt64(size uint64) (int64, error) {
	if size > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d bytes", bo.ErrNoSpace, size)
	}
	return int64(size), nil
}
