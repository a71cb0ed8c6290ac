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
	"fmt"

	"github.com/alexzuosh/lite-gpu/pkg/gpu/errdefs"
)

var (
	ErrFailedOption  = fmt.Errorf("bo: failed to apply option: %w", errdefs.ErrInvalidArgument)
	ErrInvalidSize   = fmt.Errorf("bo: invalid buffer size: %w", errdefs.ErrInvalidArgument)
	ErrInvalidDomain = fmt.Errorf("bo: no usable placement domain: %w", errdefs.ErrInvalidArgument)
	ErrNoSpace       = fmt.Errorf("bo: no region can hold the buffer: %w", errdefs.ErrOutOfSpace)
	ErrTooMany       = fmt.Errorf("bo: too many buffer objects: %w", errdefs.ErrOutOfSpace)
	ErrNoOffsetSpace = fmt.Errorf("bo: mmap offset space exhausted: %w", errdefs.ErrOutOfSpace)
	ErrNotMappable   = fmt.Errorf("bo: no mmap offset space: %w", errdefs.ErrInvalidArgument)
	ErrUnknownObject = fmt.Errorf("bo: unknown buffer object: %w", errdefs.ErrNotFound)
	ErrUnknownOffset = fmt.Errorf("bo: unknown mmap offset: %w", errdefs.ErrNotFound)
	ErrClosed        = fmt.Errorf("bo: manager closed: %w", errdefs.ErrInvalidArgument)
	ErrUnreferenced  = fmt.Errorf("bo: release of unreferenced object: %w", errdefs.ErrInternal)
	ErrLiveObjects   = fmt.Errorf("bo: buffer objects still referenced: %w", errdefs.ErrInternal)
	ErrInternalError = fmt.Errorf("bo: %w", errdefs.ErrInternal)
)
