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
	"context"
	"fmt"
	"time"

	"github.com/alexzuosh/lite-gpu/pkg/gpu/handle"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/uapi"
)

// Ioctl dispatches a request with its typed arguments and returns 0 on
// success or a negative errno. Output fields of arg are filled in on
// success.
func (c *Client) Ioctl(nr uapi.Nr, arg any) int {
	err := c.ioctl(nr, arg)
	if err != nil {
		log.Debug("%s: client #%d %s failed: %v", c.dev.name, c.id, nr, err)
	}
	return uapi.Errno(err)
}

func (c *Client) ioctl(nr uapi.Nr, arg any) error {
	switch nr {
	case uapi.NrGetParam:
		args, ok := arg.(*uapi.GetParamArgs)
		if !ok {
			return invalidArgs(nr, arg)
		}
		value, err := c.GetParam(uapi.Param(args.Param))
		if err != nil {
			return err
		}
		args.Value = value

	case uapi.NrGemCreate:
		args, ok := arg.(*uapi.GemCreateArgs)
		if !ok {
			return invalidArgs(nr, arg)
		}
		buf, err := c.CreateBuffer(args.Size, uapi.DomainFlags(args.Flags))
		if err != nil {
			return err
		}
		args.Handle = uint32(buf.Handle)
		args.Size = uint64(buf.Size)
		args.Flags = uint32(uapi.FlagsForDomain(buf.Domain))

	case uapi.NrGemMap:
		args, ok := arg.(*uapi.GemMapArgs)
		if !ok {
			return invalidArgs(nr, arg)
		}
		offset, err := c.MapBuffer(handle.Handle(args.Handle))
		if err != nil {
			return err
		}
		args.Offset = offset

	case uapi.NrSubmit:
		args, ok := arg.(*uapi.SubmitArgs)
		if !ok {
			return invalidArgs(nr, arg)
		}
		fence, err := c.SubmitCommand(int(args.Engine), args.Commands)
		if err != nil {
			return err
		}
		args.Fence = fence.Token()

	case uapi.NrWaitBO:
		args, ok := arg.(*uapi.WaitArgs)
		if !ok {
			return invalidArgs(nr, arg)
		}
		if args.TimeoutNs < 0 {
			return fmt.Errorf("%w: negative timeout", uapi.ErrInvalidArgs)
		}
		ctx := context.Background()
		if args.TimeoutNs > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(args.TimeoutNs))
			defer cancel()
		}
		return c.WaitBuffer(ctx, handle.Handle(args.Handle))

	default:
		return fmt.Errorf("%w: %s", uapi.ErrUnknownRequest, nr)
	}

	return nil
}

func invalidArgs(nr uapi.Nr, arg any) error {
	return fmt.Errorf("%w: %T for %s", uapi.ErrInvalidArgs, arg, nr)
}
