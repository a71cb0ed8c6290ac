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
	"context"
	"fmt"
	"sync"
)

const (
	engineShift = 56
	seqMask     = uint64(1)<<engineShift - 1
)

// Fence identifies the completion of a submitted command. The zero Fence
// is always signalled.
type Fence struct {
	Engine uint8
	Seq    uint64
}

// FenceFromToken decodes a fence from its opaque token.
func FenceFromToken(token uint64) Fence {
	return Fence{
		Engine: uint8(token >> engineShift),
		Seq:    token & seqMask,
	}
}

// Token returns the opaque 64-bit token for the fence.
func (f Fence) Token() uint64 {
	return uint64(f.Engine)<<engineShift | f.Seq&seqMask
}

// IsZero returns true for the zero fence.
func (f Fence) IsZero() bool {
	return f.Seq == 0
}

// String returns a string representation of the fence.
func (f Fence) String() string {
	return fmt.Sprintf("fence<engine %d, #%d>", f.Engine, f.Seq)
}

// Timeline tracks the sequence numbers of submitted and signalled fences.
type Timeline struct {
	mu        sync.Mutex
	submitted uint64
	signalled uint64
	changed   chan struct{}
}

// NewTimeline creates a new timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		changed: make(chan struct{}),
	}
}

// Next allocates the next sequence number.
func (t *Timeline) Next() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitted++
	return t.submitted
}

// Submitted returns the last allocated sequence number.
func (t *Timeline) Submitted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.submitted
}

// Signalled returns the last signalled sequence number.
func (t *Timeline) Signalled() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signalled
}

// Signal marks all sequence numbers up to seq as complete.
func (t *Timeline) Signal(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seq > t.submitted {
		seq = t.submitted
	}
	if seq <= t.signalled {
		return
	}

	t.signalled = seq
	close(t.changed)
	t.changed = make(chan struct{})
}

// IsSignalled returns true if the fence has completed.
func (t *Timeline) IsSignalled(f Fence) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return f.Seq <= t.signalled
}

// Wait blocks until the fence is signalled or the context is done.
func (t *Timeline) Wait(ctx context.Context, f Fence) error {
	for {
		t.mu.Lock()
		if f.Seq > t.submitted {
			t.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownFence, f)
		}
		if f.Seq <= t.signalled {
			t.mu.Unlock()
			return nil
		}
		changed := t.changed
		t.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
