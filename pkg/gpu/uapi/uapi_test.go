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

package uapi_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/alexzuosh/lite-gpu/pkg/gpu/errdefs"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/region"
	. "github.com/alexzuosh/lite-gpu/pkg/gpu/uapi"
)

func TestErrno(t *testing.T) {
	type testCase struct {
		name  string
		err   error
		errno int
	}
	for _, tc := range []*testCase{
		{"nil", nil, 0},
		{"invalid argument", errdefs.ErrInvalidArgument, -int(unix.EINVAL)},
		{"not found", fmt.Errorf("handle 7: %w", errdefs.ErrNotFound), -int(unix.ENOENT)},
		{"out of space", errdefs.ErrOutOfSpace, -int(unix.ENOSPC)},
		{"too large", errdefs.ErrTooLarge, -int(unix.E2BIG)},
		{"would overflow", errdefs.ErrWouldOverflow, -int(unix.EAGAIN)},
		{"internal", errdefs.ErrInternal, -int(unix.EIO)},
		{"unclassified", errors.New("oops"), -int(unix.EIO)},
		{"unknown request", ErrUnknownRequest, -int(unix.ENOTTY)},
		{"timeout", context.DeadlineExceeded, -int(unix.ETIMEDOUT)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.errno, Errno(tc.err))
		})
	}
}

func TestErrnoKindsAreDistinct(t *testing.T) {
	seen := map[int]error{}
	for _, err := range []error{
		errdefs.ErrInvalidArgument,
		errdefs.ErrNotFound,
		errdefs.ErrOutOfSpace,
		errdefs.ErrTooLarge,
		errdefs.ErrWouldOverflow,
		errdefs.ErrInternal,
	} {
		errno := Errno(err)
		require.Less(t, errno, 0)
		prev, dup := seen[errno]
		require.False(t, dup, "%v and %v share errno %d", prev, err, errno)
		seen[errno] = err
	}
	require.Equal(t, "ENOSPC", ErrnoName(Errno(errdefs.ErrOutOfSpace)))
	require.Equal(t, "OK", ErrnoName(0))
}

func TestParams(t *testing.T) {
	for _, p := range Params() {
		require.True(t, p.IsValid())
		parsed, err := ParseParam(p.String())
		require.NoError(t, err)
		require.Equal(t, p, parsed)
	}

	require.False(t, Param(0).IsValid())
	require.False(t, Param(1000).IsValid())

	_, err := ParseParam("warp-speed")
	require.ErrorIs(t, err, ErrUnknownParam)
	require.True(t, errdefs.IsInvalidArgument(err))
}

func TestDomainFlags(t *testing.T) {
	type testCase struct {
		flags DomainFlags
		mask  region.DomainMask
		err   error
	}
	for _, tc := range []*testCase{
		{0, 0, nil},
		{DomainVRAM, region.DomainMaskVRAM, nil},
		{DomainGTT, region.DomainMaskGTT, nil},
		{DomainVRAM | DomainGTT, region.DomainMaskAll, nil},
		{1 << 5, 0, ErrInvalidFlags},
	} {
		t.Run(fmt.Sprintf("flags 0x%x", uint32(tc.flags)), func(t *testing.T) {
			mask, err := tc.flags.Mask()
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.mask, mask)
		})
	}

	require.Equal(t, DomainVRAM, FlagsForDomain(region.DomainVRAM))
	require.Equal(t, DomainGTT, FlagsForDomain(region.DomainGTT))
	require.Equal(t, DomainFlags(0), FlagsForDomain(region.DomainOffset))
}

func TestRequestEncoding(t *testing.T) {
	// _IOWR('L', 0x01, 16)
	require.Equal(t, uint32(0xc0104c01), NrGemCreate.Request())
	// _IOWR('L', 0x03, 24)
	require.Equal(t, uint32(0xc0184c03), NrSubmit.Request())
	require.Equal(t, "GEM_MAP", NrGemMap.String())
	require.Equal(t, "%!Nr(0x2a)", Nr(0x2a).String())
}
