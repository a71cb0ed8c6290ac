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

package bo_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/alexzuosh/lite-gpu/pkg/gpu/bo"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/errdefs"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/region"
)

const page = DefaultPageSize

type testSetup struct {
	vram    *region.Region
	gtt     *region.Region
	offsets *region.Region
	mgr     *Manager
}

func setup(t *testing.T, vram, gtt int64, options ...Option) *testSetup {
	t.Helper()

	s := &testSetup{}

	var err error
	s.vram, err = region.New(region.DomainVRAM, vram, region.WithStrictChecks())
	require.NoError(t, err)
	s.gtt, err = region.New(region.DomainGTT, gtt, region.WithStrictChecks())
	require.NoError(t, err)
	s.offsets, err = region.New(region.DomainOffset, vram+gtt, region.WithStrictChecks())
	require.NoError(t, err)

	options = append([]Option{
		WithRegions(s.vram, s.gtt),
		WithPlacement(region.DomainVRAM, region.DomainGTT),
		WithOffsetSpace(s.offsets),
	}, options...)

	s.mgr, err = NewManager(options...)
	require.NoError(t, err)

	return s
}

func (s *testSetup) requireAllFree(t *testing.T) {
	t.Helper()
	require.Equal(t, s.vram.Capacity(), s.vram.Free(), "free VRAM pages")
	require.Equal(t, s.gtt.Capacity(), s.gtt.Free(), "free GTT pages")
	require.Equal(t, s.offsets.Capacity(), s.offsets.Free(), "free offset pages")
	require.Equal(t, 0, s.mgr.Stats().Objects, "live objects")
}

func TestNewManager(t *testing.T) {
	vram, err := region.New(region.DomainVRAM, 16)
	require.NoError(t, err)
	gtt, err := region.New(region.DomainGTT, 16)
	require.NoError(t, err)
	offsets, err := region.New(region.DomainOffset, 16)
	require.NoError(t, err)

	type testCase struct {
		name    string
		options []Option
		fail    bool
	}
	for _, tc := range []*testCase{
		{
			name:    "default placement",
			options: []Option{WithRegions(vram, gtt)},
		},
		{
			name:    "no regions",
			options: nil,
			fail:    true,
		},
		{
			name:    "duplicate domain",
			options: []Option{WithRegions(vram, vram)},
			fail:    true,
		},
		{
			name:    "offset space as placement region",
			options: []Option{WithRegions(offsets)},
			fail:    true,
		},
		{
			name:    "placement without region",
			options: []Option{WithRegions(gtt), WithPlacement(region.DomainVRAM)},
			fail:    true,
		},
		{
			name:    "placement region as offset space",
			options: []Option{WithRegions(vram), WithOffsetSpace(gtt)},
			fail:    true,
		},
		{
			name:    "bad page size",
			options: []Option{WithRegions(vram), WithPageSize(1000)},
			fail:    true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewManager(tc.options...)
			if tc.fail {
				require.ErrorIs(t, err, ErrFailedOption)
				require.Nil(t, m)
			} else {
				require.NoError(t, err)
				require.Equal(t, []region.Domain{region.DomainVRAM, region.DomainGTT}, m.Placement())
			}
		})
	}
}

func TestCreate(t *testing.T) {
	s := setup(t, 16, 16, WithStrictChecks())

	obj, err := s.mgr.Create(2*page + 1)
	require.NoError(t, err)
	require.Equal(t, int64(3*page), obj.Size())
	require.Equal(t, int64(2*page+1), obj.RequestedSize())
	require.Equal(t, region.DomainVRAM, obj.Domain())
	require.Equal(t, int32(1), obj.Refs())
	require.True(t, obj.DestroyOnZero())
	require.Equal(t, int64(13), s.vram.Free())
	require.True(t, s.vram.IsReserved(obj.Pages()))

	found, err := s.mgr.Lookup(obj.ID())
	require.NoError(t, err)
	require.Same(t, obj, found)

	other, err := s.mgr.Create(page)
	require.NoError(t, err)
	require.Greater(t, other.ID(), obj.ID())

	require.NoError(t, obj.Put())
	require.NoError(t, other.Put())
	s.requireAllFree(t)
}

func TestCreateInvalidSize(t *testing.T) {
	s := setup(t, 16, 16, WithStrictChecks())

	for _, size := range []int64{0, -1, -page} {
		obj, err := s.mgr.Create(size)
		require.ErrorIs(t, err, ErrInvalidSize)
		require.True(t, errdefs.IsInvalidArgument(err))
		require.Nil(t, obj)
	}

	s.requireAllFree(t)
}

func TestCreateOversizeDoesNotLeak(t *testing.T) {
	s := setup(t, 16, 32, WithStrictChecks())

	for _, pages := range []int64{33, 48 + 1, 1024} {
		obj, err := s.mgr.Create(pages * page)
		require.ErrorIs(t, err, ErrNoSpace, "%d pages", pages)
		require.True(t, errdefs.IsOutOfSpace(err))
		require.Nil(t, obj)
		s.requireAllFree(t)
	}

	require.Equal(t, int64(3), s.mgr.Stats().Failed)
}

func TestPlacementFallback(t *testing.T) {
	s := setup(t, 4, 16, WithStrictChecks())

	a, err := s.mgr.Create(4 * page)
	require.NoError(t, err)
	require.Equal(t, region.DomainVRAM, a.Domain())

	b, err := s.mgr.Create(4 * page)
	require.NoError(t, err)
	require.Equal(t, region.DomainGTT, b.Domain())

	// VRAM is full, a VRAM-only buffer cannot be placed
	_, err = s.mgr.Create(page, WithDomains(region.DomainMaskVRAM))
	require.ErrorIs(t, err, errdefs.ErrOutOfSpace)

	require.NoError(t, a.Put())

	c, err := s.mgr.Create(page, WithDomains(region.DomainMaskVRAM))
	require.NoError(t, err)
	require.Equal(t, region.DomainVRAM, c.Domain())

	d, err := s.mgr.Create(page, WithDomains(region.DomainMaskGTT))
	require.NoError(t, err)
	require.Equal(t, region.DomainGTT, d.Domain())

	_, err = s.mgr.Create(page, WithDomains(region.DomainOffset.Mask()))
	require.ErrorIs(t, err, ErrInvalidDomain)

	for _, obj := range []*Object{b, c, d} {
		require.NoError(t, obj.Put())
	}
	s.requireAllFree(t)
}

func TestCreateRollback(t *testing.T) {
	s := setup(t, 16, 16, WithStrictChecks(), WithObjectLimit(2))

	a, err := s.mgr.Create(page)
	require.NoError(t, err)
	b, err := s.mgr.Create(page)
	require.NoError(t, err)

	_, err = s.mgr.Create(8 * page)
	require.ErrorIs(t, err, ErrTooMany)
	require.Equal(t, int64(14), s.vram.Free())

	require.NoError(t, a.Put())
	require.NoError(t, b.Put())
	s.requireAllFree(t)
}

func TestReferenceCounting(t *testing.T) {
	s := setup(t, 16, 16, WithStrictChecks())

	obj, err := s.mgr.Create(page)
	require.NoError(t, err)

	same, err := s.mgr.Acquire(obj.ID())
	require.NoError(t, err)
	require.Same(t, obj, same)
	require.Equal(t, int32(2), obj.Refs())

	require.NoError(t, s.mgr.Release(obj.ID()))
	require.Equal(t, int32(1), obj.Refs())
	require.False(t, obj.IsDestroyed())

	require.NoError(t, obj.Put())
	require.True(t, obj.IsDestroyed())
	require.Equal(t, int32(0), obj.Refs())

	_, err = s.mgr.Lookup(obj.ID())
	require.ErrorIs(t, err, ErrUnknownObject)
	require.ErrorIs(t, obj.Get(), errdefs.ErrNotFound)
	require.ErrorIs(t, s.mgr.Release(obj.ID()), errdefs.ErrNotFound)

	s.requireAllFree(t)
	require.Equal(t, int64(1), s.mgr.Stats().Destroyed)
}

func TestUnreferencedRelease(t *testing.T) {
	s := setup(t, 16, 16)

	obj, err := s.mgr.Create(page, WithoutDestroyOnZero())
	require.NoError(t, err)
	require.NoError(t, obj.Put())

	err = obj.Put()
	require.ErrorIs(t, err, ErrUnreferenced)
	require.True(t, errdefs.IsInternal(err))

	strict := setup(t, 16, 16, WithStrictChecks())
	obj, err = strict.mgr.Create(page, WithoutDestroyOnZero())
	require.NoError(t, err)
	require.NoError(t, obj.Put())
	require.Panics(t, func() { _ = obj.Put() })
}

func TestDestroyIfUnreferenced(t *testing.T) {
	s := setup(t, 16, 16, WithStrictChecks())

	obj, err := s.mgr.Create(2*page, WithoutDestroyOnZero())
	require.NoError(t, err)
	require.False(t, obj.DestroyOnZero())

	destroyed, err := s.mgr.DestroyIfUnreferenced(obj.ID())
	require.NoError(t, err)
	require.False(t, destroyed)

	require.NoError(t, obj.Put())
	require.False(t, obj.IsDestroyed())
	require.Equal(t, int64(14), s.vram.Free())

	// an idle object can be picked up again
	require.NoError(t, obj.Get())
	require.NoError(t, obj.Put())

	destroyed, err = s.mgr.DestroyIfUnreferenced(obj.ID())
	require.NoError(t, err)
	require.True(t, destroyed)
	require.True(t, obj.IsDestroyed())

	_, err = s.mgr.DestroyIfUnreferenced(obj.ID())
	require.ErrorIs(t, err, errdefs.ErrNotFound)

	s.requireAllFree(t)
}

func TestMapOffset(t *testing.T) {
	s := setup(t, 16, 16, WithStrictChecks())

	a, err := s.mgr.Create(2 * page)
	require.NoError(t, err)
	b, err := s.mgr.Create(page)
	require.NoError(t, err)

	_, mapped := a.MappedOffset()
	require.False(t, mapped)

	offA, err := a.MapOffset()
	require.NoError(t, err)
	require.GreaterOrEqual(t, offA, OffsetBase)
	require.Zero(t, offA%page)

	again, err := a.MapOffset()
	require.NoError(t, err)
	require.Equal(t, offA, again)

	offB, err := b.MapOffset()
	require.NoError(t, err)
	require.NotEqual(t, offA, offB)
	require.Equal(t, int64(29), s.offsets.Free())

	found, err := s.mgr.LookupOffset(offA)
	require.NoError(t, err)
	require.Same(t, a, found)

	_, err = s.mgr.LookupOffset(offA + 1)
	require.ErrorIs(t, err, ErrUnknownOffset)
	_, err = s.mgr.LookupOffset(0)
	require.ErrorIs(t, err, ErrUnknownOffset)

	require.Equal(t, 2, s.mgr.Stats().Mapped)

	require.NoError(t, a.Put())
	_, err = s.mgr.LookupOffset(offA)
	require.ErrorIs(t, err, errdefs.ErrNotFound)
	_, err = a.MapOffset()
	require.ErrorIs(t, err, errdefs.ErrNotFound)

	require.NoError(t, b.Put())
	s.requireAllFree(t)
}

func TestNotMappable(t *testing.T) {
	vram, err := region.New(region.DomainVRAM, 16)
	require.NoError(t, err)
	m, err := NewManager(WithRegions(vram))
	require.NoError(t, err)

	obj, err := m.Create(page)
	require.NoError(t, err)
	_, err = obj.MapOffset()
	require.ErrorIs(t, err, ErrNotMappable)
	require.NoError(t, obj.Put())
}

func TestConcurrentGetPut(t *testing.T) {
	s := setup(t, 16, 16, WithStrictChecks())

	obj, err := s.mgr.Create(page)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if err := obj.Get(); err != nil {
					t.Errorf("get failed: %v", err)
					return
				}
				if err := obj.Put(); err != nil {
					t.Errorf("put failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), obj.Refs())
	require.NoError(t, obj.Put())
	require.Equal(t, int64(1), s.mgr.Stats().Destroyed)
	s.requireAllFree(t)
}

func TestConcurrentLastRelease(t *testing.T) {
	s := setup(t, 16, 16, WithStrictChecks())

	obj, err := s.mgr.Create(page)
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		require.NoError(t, obj.Get())
	}

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := obj.Put(); err != nil {
				t.Errorf("put failed: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.True(t, obj.IsDestroyed())
	require.Equal(t, int64(1), s.mgr.Stats().Destroyed)
	s.requireAllFree(t)
}

func TestCreateDestroyStress(t *testing.T) {
	s := setup(t, 64, 256, WithStrictChecks())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if i%10 == 0 {
					// larger than VRAM and GTT combined
					_, err := s.mgr.Create(int64(64+256+1+w) * page)
					if !errors.Is(err, ErrNoSpace) {
						t.Errorf("worker %d: oversize create %d: %v", w, i, err)
					}
				}
				size := int64(1+(w+i)%4) * page
				obj, err := s.mgr.Create(size)
				if err != nil {
					t.Errorf("worker %d: create %d failed: %v", w, i, err)
					return
				}
				if i%3 == 0 {
					if _, err := obj.MapOffset(); err != nil {
						t.Errorf("worker %d: map %d failed: %v", w, i, err)
					}
				}
				if err := obj.Put(); err != nil {
					t.Errorf("worker %d: put %d failed: %v", w, i, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	stats := s.mgr.Stats()
	require.Equal(t, int64(800), stats.Created)
	require.Equal(t, int64(800), stats.Destroyed)
	require.Equal(t, int64(80), stats.Failed)
	s.requireAllFree(t)
	require.NoError(t, s.vram.Validate())
	require.NoError(t, s.gtt.Validate())
}

func TestForeachObject(t *testing.T) {
	s := setup(t, 16, 16, WithStrictChecks())

	var objs []*Object
	for i := 0; i < 4; i++ {
		obj, err := s.mgr.Create(page)
		require.NoError(t, err)
		objs = append(objs, obj)
	}

	var ids []ID
	s.mgr.ForeachObject(func(obj *Object) bool {
		ids = append(ids, obj.ID())
		return len(ids) < 3
	})
	require.Equal(t, []ID{objs[0].ID(), objs[1].ID(), objs[2].ID()}, ids)

	stats := s.mgr.Stats()
	require.Equal(t, 4, stats.Objects)
	require.Equal(t, int64(4*page), stats.Bytes[region.DomainVRAM])
	require.Equal(t, 4, stats.Count[region.DomainVRAM])

	for _, obj := range objs {
		require.NoError(t, obj.Put())
	}
	s.requireAllFree(t)
}

func TestClose(t *testing.T) {
	s := setup(t, 16, 16)

	live, err := s.mgr.Create(page)
	require.NoError(t, err)
	idle, err := s.mgr.Create(page, WithoutDestroyOnZero())
	require.NoError(t, err)
	require.NoError(t, idle.Put())

	err = s.mgr.Close()
	require.ErrorIs(t, err, ErrLiveObjects)
	require.True(t, idle.IsDestroyed())
	require.False(t, live.IsDestroyed())

	_, err = s.mgr.Create(page)
	require.ErrorIs(t, err, ErrClosed)

	require.NoError(t, live.Put())
	require.NoError(t, s.mgr.Close())
	s.requireAllFree(t)
}
