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
	"context"
	"fmt"
	"sync"

	"github.com/alexzuosh/lite-gpu/pkg/gpu/bo"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/handle"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/region"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/ring"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/uapi"
)

// Client is an open session on a device. Buffer objects created by a
// client are only reachable through its handles.
type Client struct {
	id      int
	dev     *Device
	handles *handle.Table[*bo.Object]

	mu     sync.Mutex
	mapped map[uint64]bo.ID
	closed bool
}

// Buffer describes a buffer object created for a client.
type Buffer struct {
	Handle handle.Handle
	Size   int64
	Domain region.Domain
}

// Mapping describes a certified mmap of a buffer object.
type Mapping struct {
	Object bo.ID
	Offset uint64
	Domain region.Domain
	Pages  region.PageRange
	Size   int64
}

// Open opens a new client on the device.
func (d *Device) Open() (*Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.attached {
		return nil, ErrDetached
	}

	id := int(d.nextID.Add(1))
	c := &Client{
		id:      id,
		dev:     d,
		handles: handle.NewTable[*bo.Object](fmt.Sprintf("%s/client#%d", d.name, id)),
		mapped:  make(map[uint64]bo.ID),
	}
	d.clients[id] = c

	log.Debug("%s: opened client #%d", d.name, id)

	return c, nil
}

// ID returns the ID of the client.
func (c *Client) ID() int {
	return c.id
}

// Device returns the device of the client.
func (c *Client) Device() *Device {
	return c.dev
}

// Handles returns the live handles of the client.
func (c *Client) Handles() []handle.Handle {
	return c.handles.Handles()
}

// Close closes all handles of the client and the client itself.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.closed = true
	c.mapped = nil
	c.mu.Unlock()

	err := c.handles.CloseAll()

	c.dev.mu.Lock()
	delete(c.dev.clients, c.id)
	c.dev.mu.Unlock()

	log.Debug("%s: closed client #%d", c.dev.name, c.id)

	return err
}

func (c *Client) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// GetParam returns the value of a device parameter.
func (c *Client) GetParam(p uapi.Param) (uint64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.dev.Param(p)
}

// CreateBuffer creates a buffer object of at least size bytes and binds
// it to a new handle of the client. The domain flags restrict placement.
func (c *Client) CreateBuffer(size uint64, flags uapi.DomainFlags) (Buffer, error) {
	if err := c.check(); err != nil {
		return Buffer{}, err
	}

	mask, err := flags.Mask()
	if err != nil {
		return Buffer{}, err
	}

	bytes, err := sizeToInt64(size)
	if err != nil {
		return Buffer{}, err
	}

	obj, err := c.dev.objects.Create(bytes, bo.WithDomains(mask))
	if err != nil {
		return Buffer{}, err
	}

	h, err := c.handles.Publish(obj)

	// the handle holds its own reference now, drop the one of creation
	if putErr := obj.Put(); putErr != nil && err == nil {
		err = putErr
	}
	if err != nil {
		return Buffer{}, err
	}

	log.Debug("%s: client #%d created handle %d for %s", c.dev.name, c.id, h, obj)

	return Buffer{
		Handle: h,
		Size:   obj.Size(),
		Domain: obj.Domain(),
	}, nil
}

// MapBuffer returns the mmap offset of the buffer object bound to a handle.
func (c *Client) MapBuffer(h handle.Handle) (uint64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}

	obj, err := c.acquire(h)
	if err != nil {
		return 0, err
	}
	defer c.release(obj)

	offset, err := obj.MapOffset()
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if c.mapped != nil {
		c.mapped[offset] = obj.ID()
	}
	c.mu.Unlock()

	return offset, nil
}

// SubmitCommand submits a command buffer to an engine of the device. The
// returned fence is signalled once the command is complete.
func (c *Client) SubmitCommand(engine int, commands []byte) (ring.Fence, error) {
	if err := c.check(); err != nil {
		return ring.Fence{}, err
	}
	return c.dev.ring.Submit(engine, commands)
}

// WaitBuffer waits until all work submitted to the device so far is
// complete, or the context is done.
func (c *Client) WaitBuffer(ctx context.Context, h handle.Handle) error {
	if err := c.check(); err != nil {
		return err
	}

	if _, err := c.handles.Lookup(h); err != nil {
		return err
	}

	return c.dev.ring.Wait(ctx, c.dev.ring.LastFence())
}

// CloseBuffer closes a handle of the client.
func (c *Client) CloseBuffer(h handle.Handle) error {
	if err := c.check(); err != nil {
		return err
	}

	if obj, err := c.handles.Lookup(h); err == nil {
		if offset, ok := obj.MappedOffset(); ok {
			c.mu.Lock()
			if c.mapped[offset] == obj.ID() {
				delete(c.mapped, offset)
			}
			c.mu.Unlock()
		}
	}

	return c.handles.Close(h)
}

// acquire looks up a handle and takes a reference to its object, keeping
// the object alive even if the handle is closed concurrently.
func (c *Client) acquire(h handle.Handle) (*bo.Object, error) {
	obj, err := c.handles.Lookup(h)
	if err != nil {
		return nil, err
	}
	if err := obj.Get(); err != nil {
		return nil, err
	}
	return obj, nil
}

func (c *Client) release(obj *bo.Object) {
	if err := obj.Put(); err != nil {
		log.Error("%s: client #%d failed to release %s: %v", c.dev.name, c.id, obj, err)
	}
}

// ResolveMapping certifies that an mmap of length bytes at offset
// belongs to a buffer object the client has mapped and fits the object.
func (d *Device) ResolveMapping(c *Client, offset, length uint64) (Mapping, error) {
	if c.dev != d {
		return Mapping{}, ErrForeignClient
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Mapping{}, ErrClientClosed
	}
	id, ok := c.mapped[offset]
	c.mu.Unlock()

	if !ok {
		return Mapping{}, fmt.Errorf("%w: 0x%x", ErrNotMapped, offset)
	}

	obj, err := d.objects.LookupOffset(offset)
	if err != nil || obj.ID() != id {
		return Mapping{}, fmt.Errorf("%w: 0x%x", ErrNotMapped, offset)
	}

	if length == 0 || length > uint64(obj.Size()) {
		return Mapping{}, fmt.Errorf("%w: %d bytes for %s", ErrInvalidLength, length, obj)
	}

	return Mapping{
		Object: obj.ID(),
		Offset: offset,
		Domain: obj.Domain(),
		Pages:  obj.Pages(),
		Size:   obj.Size(),
	}, nil
}
