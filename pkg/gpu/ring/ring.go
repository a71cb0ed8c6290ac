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

// Package ring implements a fixed-capacity command ring with a single
// logical producer and a single logical consumer.
//
// Read and write pointers are monotonically increasing 64-bit byte
// offsets, the position of an offset in the buffer is the offset modulo
// capacity. A command payload is always stored contiguously. When it
// does not fit the segment between the write position and the end of
// the buffer, that segment is recorded as padding and the payload is
// stored at the start of the buffer. A command which cannot be stored
// without overwriting unconsumed bytes is rejected, the ring never
// wraps over data the consumer has not drained.
package ring

import (
	"context"
	"fmt"
	"sync"
)

const (
	// MaxEngines is the maximum number of engines a ring can serve.
	MaxEngines = 256
)

// Command describes a command stored in the ring.
type Command struct {
	Offset  uint64 // monotonic offset of the payload
	Length  int    // payload length in bytes
	Padding int    // bytes skipped before the payload
	Engine  int    // target engine
	Fence   Fence  // completion fence
}

// Stats is a snapshot of the state of a ring.
type Stats struct {
	Capacity  int    `json:"capacity"`
	Used      int    `json:"used"`
	Room      int    `json:"room"`
	Pending   int    `json:"pending"`
	WritePtr  uint64 `json:"writePtr"`
	ReadPtr   uint64 `json:"readPtr"`
	Submitted int64  `json:"submitted"`
	Consumed  int64  `json:"consumed"`
	Rejected  int64  `json:"rejected"`
	Padding   int64  `json:"padding"`
	Bytes     int64  `json:"bytes"`
}

// Ring is a fixed-capacity command ring.
type Ring struct {
	mu       sync.Mutex // covers both pointers and the bytes between them
	name     string
	buf      []byte
	capacity uint64
	wptr     uint64
	rptr     uint64
	cmds     []Command
	engines  int
	timeline *Timeline
	closed   bool

	submitted int64
	consumed  int64
	rejected  int64
	padding   int64
	bytes     int64
}

// Option is an opaque option for a Ring.
type Option func(*Ring) error

// WithName sets the name of the ring.
func WithName(name string) Option {
	return func(r *Ring) error {
		r.name = name
		return nil
	}
}

// WithEngines sets the number of engines the ring accepts commands for.
func WithEngines(count int) Option {
	return func(r *Ring) error {
		if count < 1 || count > MaxEngines {
			return fmt.Errorf("invalid engine count %d", count)
		}
		r.engines = count
		return nil
	}
}

// New creates a ring with the given capacity in bytes.
func New(capacity int, options ...Option) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, capacity)
	}

	r := &Ring{
		name:     "ring",
		buf:      make([]byte, capacity),
		capacity: uint64(capacity),
		engines:  1,
		timeline: NewTimeline(),
	}

	for _, o := range options {
		if err := o(r); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedOption, err)
		}
	}

	log.Info("%s: %d bytes, %d engine(s)", r.name, capacity, r.engines)

	return r, nil
}

// Name returns the name of the ring.
func (r *Ring) Name() string {
	return r.name
}

// Capacity returns the capacity of the ring in bytes.
func (r *Ring) Capacity() int {
	return int(r.capacity)
}

// Engines returns the number of engines served by the ring.
func (r *Ring) Engines() int {
	return r.engines
}

// Timeline returns the fence timeline of the ring.
func (r *Ring) Timeline() *Timeline {
	return r.timeline
}

// Submit copies a command payload into the ring and returns its fence.
// An empty payload is not stored, it returns the fence of the last
// submitted command.
func (r *Ring) Submit(engine int, payload []byte) (Fence, error) {
	if engine < 0 || engine >= r.engines {
		return Fence{}, fmt.Errorf("%w: %d, ring has %d", ErrInvalidEngine, engine, r.engines)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Fence{}, ErrClosed
	}

	n := uint64(len(payload))
	if n == 0 {
		return Fence{Engine: uint8(engine), Seq: r.timeline.Submitted()}, nil
	}
	if n > r.capacity {
		r.rejected++
		return Fence{}, fmt.Errorf("%w: %d bytes, capacity %d", ErrTooLarge, n, r.capacity)
	}

	r.realign()

	var (
		free = r.capacity - (r.wptr - r.rptr)
		pos  = r.wptr % r.capacity
		tail = r.capacity - pos
		pad  uint64
	)

	switch {
	case n <= tail && n <= free:
	case n > tail && tail+n <= free:
		pad = tail
	default:
		r.rejected++
		return Fence{}, fmt.Errorf("%w: %d bytes, room for %d", ErrWouldOverflow, n, r.room())
	}

	start := (r.wptr + pad) % r.capacity
	copy(r.buf[start:start+n], payload)

	fence := Fence{Engine: uint8(engine), Seq: r.timeline.Next()}
	r.cmds = append(r.cmds, Command{
		Offset:  r.wptr + pad,
		Length:  int(n),
		Padding: int(pad),
		Engine:  engine,
		Fence:   fence,
	})

	// publish only once the payload is fully in place
	r.wptr += pad + n

	r.submitted++
	r.padding += int64(pad)
	r.bytes += int64(n)

	// no completion tracking, commands are complete once submitted
	r.timeline.Signal(fence.Seq)

	log.Debug("%s: submitted %d bytes at 0x%x (padding %d) for engine %d, %s",
		r.name, n, start, pad, engine, fence)

	return fence, nil
}

// Room returns the size of the largest payload Submit would accept now.
func (r *Ring) Room() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.room())
}

func (r *Ring) room() uint64 {
	used := r.wptr - r.rptr
	if used == 0 {
		return r.capacity
	}

	var (
		free = r.capacity - used
		tail = r.capacity - r.wptr%r.capacity
	)

	if free <= tail {
		return free
	}
	return max(tail, free-tail)
}

// realign moves the pointers of an empty ring to the start of the buffer.
func (r *Ring) realign() {
	if r.wptr != r.rptr {
		return
	}
	if pos := r.wptr % r.capacity; pos != 0 {
		r.wptr += r.capacity - pos
		r.rptr = r.wptr
	}
}

// Used returns the number of unconsumed bytes, including padding.
func (r *Ring) Used() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.wptr - r.rptr)
}

// Pending returns the number of unconsumed commands.
func (r *Ring) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}

// Drain consumes at most limit commands, all pending ones if limit <= 0, in
// submission order. The payload passed to fn is only valid for the
// duration of the call and fn must not call back into the ring. The read
// pointer is advanced past each command once fn returns. Drain returns
// the number of commands consumed.
func (r *Ring) Drain(limit int, fn func(cmd Command, payload []byte)) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for len(r.cmds) > 0 && (limit <= 0 || count < limit) {
		cmd := r.cmds[0]
		start := cmd.Offset % r.capacity

		if fn != nil {
			fn(cmd, r.buf[start:start+uint64(cmd.Length)])
		}

		r.rptr = cmd.Offset + uint64(cmd.Length)
		r.cmds[0] = Command{}
		r.cmds = r.cmds[1:]
		r.consumed++
		count++
	}

	if len(r.cmds) == 0 {
		r.cmds = nil
	}

	return count
}

// Wait blocks until the fence is signalled or the context is done.
func (r *Ring) Wait(ctx context.Context, f Fence) error {
	return r.timeline.Wait(ctx, f)
}

// LastFence returns the fence of the last submitted command.
func (r *Ring) LastFence() Fence {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.cmds) > 0 {
		return r.cmds[len(r.cmds)-1].Fence
	}
	return Fence{Seq: r.timeline.Submitted()}
}

// Close rejects further submissions and discards unconsumed commands.
// It returns the number of commands discarded.
func (r *Ring) Close() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0
	}

	r.closed = true
	discarded := len(r.cmds)
	r.cmds = nil
	r.rptr = r.wptr
	r.timeline.Signal(r.timeline.Submitted())

	if discarded > 0 {
		log.Warn("%s: closed with %d unconsumed commands", r.name, discarded)
	}

	return discarded
}

// Stats returns a snapshot of the state of the ring.
func (r *Ring) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		Capacity:  int(r.capacity),
		Used:      int(r.wptr - r.rptr),
		Room:      int(r.room()),
		Pending:   len(r.cmds),
		WritePtr:  r.wptr,
		ReadPtr:   r.rptr,
		Submitted: r.submitted,
		Consumed:  r.consumed,
		Rejected:  r.rejected,
		Padding:   r.padding,
		Bytes:     r.bytes,
	}
}

// Validate checks that the pending commands exactly cover the bytes
// between the read and write pointers.
func (r *Ring) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validate()
}

func (r *Ring) validate() error {
	if r.wptr < r.rptr {
		return fmt.Errorf("%w: write pointer 0x%x behind read pointer 0x%x", ErrCorrupted, r.wptr, r.rptr)
	}
	if r.wptr-r.rptr > r.capacity {
		return fmt.Errorf("%w: %d bytes used, capacity %d", ErrCorrupted, r.wptr-r.rptr, r.capacity)
	}

	next := r.rptr
	for _, cmd := range r.cmds {
		if cmd.Offset-uint64(cmd.Padding) != next {
			return fmt.Errorf("%w: %s at 0x%x, expected 0x%x", ErrCorrupted, cmd.Fence,
				cmd.Offset-uint64(cmd.Padding), next)
		}
		if cmd.Offset%r.capacity+uint64(cmd.Length) > r.capacity {
			return fmt.Errorf("%w: %s wraps the buffer", ErrCorrupted, cmd.Fence)
		}
		next = cmd.Offset + uint64(cmd.Length)
	}
	if next != r.wptr {
		return fmt.Errorf("%w: commands end at 0x%x, write pointer at 0x%x", ErrCorrupted, next, r.wptr)
	}

	return nil
}
