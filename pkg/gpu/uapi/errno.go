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

package uapi

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/alexzuosh/lite-gpu/pkg/gpu/errdefs"
)

// Errno translates an error to the negative errno returned for a request.
// A nil error translates to 0. Every error kind has a distinct errno.
func Errno(err error) int {
	if err == nil {
		return 0
	}
	return -int(ErrnoOf(err))
}

// ErrnoOf returns the errno for a non-nil error.
func ErrnoOf(err error) unix.Errno {
	switch {
	case errors.Is(err, ErrUnknownRequest):
		return unix.ENOTTY
	case errors.Is(err, context.DeadlineExceeded):
		return unix.ETIMEDOUT
	case errors.Is(err, context.Canceled):
		return unix.EINTR
	case errdefs.IsInvalidArgument(err):
		return unix.EINVAL
	case errdefs.IsNotFound(err):
		return unix.ENOENT
	case errdefs.IsOutOfSpace(err):
		return unix.ENOSPC
	case errdefs.IsTooLarge(err):
		return unix.E2BIG
	case errdefs.IsWouldOverflow(err):
		return unix.EAGAIN
	}
	return unix.EIO
}

// ErrnoName returns the symbolic name of a negative errno, such as ENOENT.
func ErrnoName(errno int) string {
	if errno >= 0 {
		return "OK"
	}
	if name := unix.ErrnoName(unix.Errno(-errno)); name != "" {
		return name
	}
	return unix.Errno(-errno).Error()
}
