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

package device

import (
	"fmt"

	"github.com/alexzuosh/lite-gpu/pkg/gpu/errdefs"
)

var (
	ErrFailedOption  = fmt.Errorf("device: failed to apply option: %w", errdefs.ErrInvalidArgument)
	ErrDetached      = fmt.Errorf("device: not attached: %w", errdefs.ErrInvalidArgument)
	ErrClientClosed  = fmt.Errorf("device: client closed: %w", errdefs.ErrInvalidArgument)
	ErrForeignClient = fmt.Errorf("device: client of another device: %w", errdefs.ErrInvalidArgument)
	ErrInvalidLength = fmt.Errorf("device: invalid mapping length: %w", errdefs.ErrInvalidArgument)
	ErrNotMapped     = fmt.Errorf("device: offset not mapped by client: %w", errdefs.ErrNotFound)
	ErrClientsOpen   = fmt.Errorf("device: clients still open: %w", errdefs.ErrInternal)
	ErrLiveObjects   = fmt.Errorf("device: buffer objects still referenced: %w", errdefs.ErrInternal)
)
