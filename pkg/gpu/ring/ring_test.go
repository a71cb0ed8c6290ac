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

package ring_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexzuosh/lite-gpu/pkg/gpu/errdefs"
	. "github.com/alexzuosh/lite-gpu/pkg/gpu/ring"
)

func payload(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func newRing(t *testing.T, capacity int, options ...Option) *Ring {
	t.Helper()
	r, err := New(capacity, options...)
	require.NoError(t, err)
	return r
}

func TestNew(t *testing.T) {
	type testCase struct {
		name     string
		capacity int
		options  []Option
		err      error
	}
	for _, tc := range []*testCase{
		{
			name:     "default",
			capacity: 4096,
		},
		{
			name:     "engines",
			capacity: 64,
			options:  []Option{WithName("gfx"), WithEngines(4)},
		},
		{
			name:     "zero capacity",
			capacity: 0,
			err:      ErrInvalidSize,
		},
		{
			name:     "negative capacity",
			capacity: -1,
			err:      ErrInvalidSize,
		},
		{
			name:     "no engines",
			capacity: 64,
			options:  []Option{WithEngines(0)},
			err:      ErrFailedOption,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r, err := New(tc.capacity, tc.options...)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.ErrorIs(t, err, errdefs.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.capacity, r.Capacity())
			require.Equal(t, tc.capacity, r.Room())
		})
	}
}

func TestSubmitAndDrain(t *testing.T) {
	r := newRing(t, 64)

	f1, err := r.Submit(0, payload(10, 'a'))
	require.NoError(t, err)
	f2, err := r.Submit(0, payload(20, 'b'))
	require.NoError(t, err)
	require.Greater(t, f2.Seq, f1.Seq)
	require.Equal(t, 30, r.Used())
	require.Equal(t, 2, r.Pending())
	require.NoError(t, r.Validate())

	var got [][]byte
	n := r.Drain(0, func(cmd Command, data []byte) {
		got = append(got, bytes.Clone(data))
	})
	require.Equal(t, 2, n)
	require.Equal(t, [][]byte{payload(10, 'a'), payload(20, 'b')}, got)
	require.Equal(t, 0, r.Used())
	require.Equal(t, 0, r.Pending())
	require.Equal(t, 0, r.Drain(0, nil))
	require.NoError(t, r.Validate())
}

func TestRoomBoundary(t *testing.T) {
	r := newRing(t, 64)

	_, err := r.Submit(0, payload(40, 'a'))
	require.NoError(t, err)

	room := r.Room()
	require.Equal(t, 24, room)

	_, err = r.Submit(0, payload(room+1, 'x'))
	require.ErrorIs(t, err, ErrWouldOverflow)
	require.True(t, errdefs.IsWouldOverflow(err))
	require.Equal(t, 40, r.Used(), "rejected command must not change the ring")

	_, err = r.Submit(0, payload(room, 'b'))
	require.NoError(t, err)
	require.Equal(t, 0, r.Room())

	_, err = r.Submit(0, payload(1, 'c'))
	require.ErrorIs(t, err, ErrWouldOverflow)
	require.NoError(t, r.Validate())
	require.Equal(t, int64(2), r.Stats().Rejected)
}

func TestTooLarge(t *testing.T) {
	r := newRing(t, 64)

	_, err := r.Submit(0, payload(65, 'a'))
	require.ErrorIs(t, err, ErrTooLarge)
	require.True(t, errdefs.IsTooLarge(err))

	_, err = r.Submit(0, payload(64, 'a'))
	require.NoError(t, err)
	require.Equal(t, 64, r.Used())
}

func TestWrapWithPadding(t *testing.T) {
	r := newRing(t, 64)

	_, err := r.Submit(0, payload(40, 'a'))
	require.NoError(t, err)
	_, err = r.Submit(0, payload(16, 'b'))
	require.NoError(t, err)

	require.Equal(t, 1, r.Drain(1, nil))

	// 8 bytes left at the tail, 40 drained at the head
	require.Equal(t, 40, r.Room())

	_, err = r.Submit(0, payload(41, 'x'))
	require.ErrorIs(t, err, ErrWouldOverflow)

	_, err = r.Submit(0, payload(30, 'c'))
	require.NoError(t, err)
	require.NoError(t, r.Validate())

	stats := r.Stats()
	require.Equal(t, int64(8), stats.Padding)
	require.Equal(t, 16+8+30, stats.Used)

	var cmds []Command
	var got [][]byte
	r.Drain(0, func(cmd Command, data []byte) {
		cmds = append(cmds, cmd)
		got = append(got, bytes.Clone(data))
	})
	require.Equal(t, [][]byte{payload(16, 'b'), payload(30, 'c')}, got)
	require.Equal(t, 0, cmds[0].Padding)
	require.Equal(t, 8, cmds[1].Padding)
	require.Equal(t, uint64(64), cmds[1].Offset)
	require.NoError(t, r.Validate())
}

func TestUnconsumedDataIsNeverOverwritten(t *testing.T) {
	r := newRing(t, 128)

	seq := byte(0)
	sizes := []int{17, 33, 1, 64, 5, 90, 12, 40, 127, 3}
	expected := [][]byte{}

	check := func(cmd Command, data []byte) {
		require.NotEmpty(t, expected)
		require.Equal(t, expected[0], data)
		expected = expected[1:]
	}

	for round := 0; round < 50; round++ {
		for _, size := range sizes {
			data := payload(size, seq)
			_, err := r.Submit(0, data)
			if err != nil {
				require.ErrorIs(t, err, ErrWouldOverflow)
				r.Drain(1, check)
				continue
			}
			expected = append(expected, data)
			seq++
			require.NoError(t, r.Validate())
		}
		r.Drain(2, check)
	}

	r.Drain(0, check)
	require.Empty(t, expected)
}

func TestZeroLengthSubmit(t *testing.T) {
	r := newRing(t, 64)

	f, err := r.Submit(0, nil)
	require.NoError(t, err)
	require.True(t, f.IsZero())
	require.True(t, r.Timeline().IsSignalled(f))

	last, err := r.Submit(0, payload(8, 'a'))
	require.NoError(t, err)

	f, err = r.Submit(0, []byte{})
	require.NoError(t, err)
	require.Equal(t, last.Seq, f.Seq)
	require.Equal(t, 8, r.Used())
	require.Equal(t, 1, r.Pending())
}

func TestEngines(t *testing.T) {
	r := newRing(t, 64, WithEngines(2))

	f, err := r.Submit(1, payload(4, 'a'))
	require.NoError(t, err)
	require.Equal(t, uint8(1), f.Engine)

	for _, engine := range []int{-1, 2, 255} {
		_, err = r.Submit(engine, payload(4, 'a'))
		require.ErrorIs(t, err, ErrInvalidEngine)
	}
}

func TestFences(t *testing.T) {
	r := newRing(t, 64)

	f, err := r.Submit(0, payload(4, 'a'))
	require.NoError(t, err)
	require.False(t, f.IsZero())
	require.True(t, r.Timeline().IsSignalled(f))
	require.Equal(t, f, r.LastFence())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx, f))
	require.NoError(t, r.Wait(ctx, Fence{}))

	err = r.Wait(ctx, Fence{Seq: f.Seq + 1})
	require.ErrorIs(t, err, ErrUnknownFence)

	require.Equal(t, f, FenceFromToken(f.Token()))
	require.Equal(t, Fence{Engine: 3, Seq: 42}, FenceFromToken(Fence{Engine: 3, Seq: 42}.Token()))
}

func TestTimelineWait(t *testing.T) {
	tl := NewTimeline()
	seq := tl.Next()
	f := Fence{Seq: seq}
	require.False(t, tl.IsSignalled(f))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, tl.Wait(ctx, f), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		done <- tl.Wait(context.Background(), f)
	}()

	tl.Signal(seq)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return after signal")
	}

	// signalling beyond the submitted sequence is clamped
	tl.Signal(seq + 10)
	require.Equal(t, seq, tl.Signalled())
}

func TestConcurrentSubmitters(t *testing.T) {
	r := newRing(t, 1024)

	var (
		wg       sync.WaitGroup
		consumed = make(map[byte]int)
		stop     = make(chan struct{})
		drained  = make(chan struct{})
	)

	go func() {
		defer close(drained)
		for {
			r.Drain(0, func(cmd Command, data []byte) {
				for _, b := range data[1:] {
					if b != data[0] {
						t.Errorf("torn command from submitter %d", data[0])
						return
					}
				}
				consumed[data[0]]++
			})
			select {
			case <-stop:
				r.Drain(0, func(cmd Command, data []byte) { consumed[data[0]]++ })
				return
			default:
			}
		}
	}()

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w byte) {
			defer wg.Done()
			for i := 0; i < 200; {
				_, err := r.Submit(0, payload(1+(int(w)*7+i)%100, w))
				if err != nil {
					if !errdefs.IsWouldOverflow(err) {
						t.Errorf("submit failed: %v", err)
						return
					}
					time.Sleep(time.Microsecond)
					continue
				}
				i++
			}
		}(byte(w))
	}

	wg.Wait()
	close(stop)
	<-drained

	for w := byte(0); w < 8; w++ {
		require.Equal(t, 200, consumed[w], "submitter %d", w)
	}
	require.NoError(t, r.Validate())
	require.Equal(t, int64(1600), r.Stats().Submitted)
}

func TestConsumer(t *testing.T) {
	r := newRing(t, 256)
	for i := 0; i < 10; i++ {
		_, err := r.Submit(0, payload(8, byte(i)))
		require.NoError(t, err)
	}

	var handled int
	c := NewConsumer(r, WithRate(1, 3), WithHandler(func(Command, []byte) { handled++ }))
	require.Equal(t, 3, c.Poll())
	require.Equal(t, 0, c.Poll())
	require.Equal(t, 3, handled)
	require.Equal(t, 7, r.Pending())

	unlimited := NewConsumer(r)
	require.Equal(t, 7, unlimited.Poll())
	require.Equal(t, 0, unlimited.Poll())
	require.Equal(t, 0, r.Used())
}

func TestConsumerRun(t *testing.T) {
	r := newRing(t, 256)
	_, err := r.Submit(0, payload(8, 'a'))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewConsumer(r, WithPollInterval(time.Millisecond)).Run(ctx)
	}()

	require.Eventually(t, func() bool { return r.Pending() == 0 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestClose(t *testing.T) {
	r := newRing(t, 64)
	_, err := r.Submit(0, payload(8, 'a'))
	require.NoError(t, err)

	require.Equal(t, 1, r.Close())
	require.Equal(t, 0, r.Used())
	require.Equal(t, 0, r.Close())

	_, err = r.Submit(0, payload(8, 'a'))
	require.ErrorIs(t, err, ErrClosed)
}
