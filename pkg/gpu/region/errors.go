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

package region

import (
	"fmt"

	"github.com/alexzuosh/lite-gpu/pkg/gpu/errdefs"
)

var (
	ErrInvalidDomain = fmt.Errorf("region: invalid domain: %w", errdefs.ErrInvalidArgument)
	ErrInvalidSize   = fmt.Errorf("region: invalid page count: %w", errdefs.ErrInvalidArgument)
	ErrNoSpace       = fmt.Errorf("region: no free range large enough: %w", errdefs.ErrOutOfSpace)
	ErrUnknownRange  = fmt.Errorf("region: range not reserved: %w", errdefs.ErrInternal)
	ErrBusy          = fmt.Errorf("region: pages still reserved: %w", errdefs.ErrInternal)
	ErrCorrupted     = fmt.Errorf("region: inconsistent state: %w", errdefs.ErrInternal)
	ErrFailedOption  = fmt.Errorf("region: failed to apply option: %w", errdefs.ErrInvalidArgument)
)
