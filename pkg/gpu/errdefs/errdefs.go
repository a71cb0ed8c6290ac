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

// Package errdefs defines the error kinds shared by all lite-gpu
// components. Components wrap these with their own, more specific
// errors, so errors.Is against a kind classifies an error from any
// layer.
package errdefs

import (
	"errors"
)

var (
	// ErrInvalidArgument is a malformed request, for instance a zero size.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is a reference to an unknown handle, object or mapping.
	ErrNotFound = errors.New("not found")
	// ErrOutOfSpace means that no region could satisfy an allocation.
	ErrOutOfSpace = errors.New("out of space")
	// ErrTooLarge is a ring submission which can never fit the ring.
	ErrTooLarge = errors.New("too large")
	// ErrWouldOverflow is a ring submission which would overwrite unconsumed data.
	ErrWouldOverflow = errors.New("would overflow")
	// ErrInternal is an invariant violation, a bug in lifecycle sequencing.
	ErrInternal = errors.New("internal error")
)

// IsInvalidArgument returns true if err is of kind ErrInvalidArgument.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsNotFound returns true if err is of kind ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsOutOfSpace returns true if err is of kind ErrOutOfSpace.
func IsOutOfSpace(err error) bool {
	return errors.Is(err, ErrOutOfSpace)
}

// IsTooLarge returns true if err is of kind ErrTooLarge.
func IsTooLarge(err error) bool {
	return errors.Is(err, ErrTooLarge)
}

// IsWouldOverflow returns true if err is of kind ErrWouldOverflow.
func IsWouldOverflow(err error) bool {
	return errors.Is(err, ErrWouldOverflow)
}

// IsInternal returns true if err is of kind ErrInternal.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}
