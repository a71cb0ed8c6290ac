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
	"fmt"

	"github.com/alexzuosh/lite-gpu/pkg/gpu/errdefs"
)

var (
	ErrFailedOption  = fmt.Errorf("ring: failed to apply option: %w", errdefs.ErrInvalidArgument)
	ErrInvalidSize   = fmt.Errorf("ring: invalid capacity: %w", errdefs.ErrInvalidArgument)
	ErrInvalidEngine = fmt.Errorf("ring: invalid engine: %w", errdefs.ErrInvalidArgument)
	ErrUnknownFence  = fmt.Errorf("ring: fence not submitted: %w", errdefs.ErrInvalidArgument)
	ErrClosed        = fmt.Errorf("ring: closed: %w", errdefs.ErrInvalidArgument)
	ErrTooLarge      = fmt.Errorf("ring: command larger than ring: %w", errdefs.ErrTooLarge)
	ErrWouldOverflow = fmt.Errorf("ring: command would overwrite unconsumed data: %w", errdefs.ErrWouldOverflow)
	ErrCorrupted     = fmt.Errorf("ring: inconsistent state: %w", errdefs.ErrInternal)
)
