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

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	devcfg "github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1/device"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/device"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/handle"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/ring"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/uapi"
)

type exercise struct {
	size     uint64
	flags    uint32
	commands int
}

func newExerciseCommand(opts *options) *cobra.Command {
	x := &exercise{}

	cmd := &cobra.Command{
		Use:   "exercise",
		Short: "Run a create, map, submit and wait cycle against a fresh device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			cfg.Spec.Device.StrictChecks = true
			return x.run(cmd.Context(), cmd.OutOrStdout(), &cfg.Spec.Device)
		},
	}

	cmd.Flags().Uint64Var(&x.size, "size", 4096, "size of the buffer to create")
	cmd.Flags().Uint32Var(&x.flags, "domains", 0, "placement flags, 1 for VRAM, 2 for GTT")
	cmd.Flags().IntVar(&x.commands, "commands", 64, "number of command bytes to submit")

	return cmd
}

type ioctlError struct {
	nr    uapi.Nr
	errno int
}

func (e *ioctlError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.nr, uapi.ErrnoName(e.errno))
}

func (x *exercise) run(ctx context.Context, out io.Writer, cfg *devcfg.Config) (retErr error) {
	dev, err := device.AttachConfig(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Detach(); err != nil && retErr == nil {
			retErr = err
		}
		if retErr == nil {
			fmt.Fprintf(out, "detached %s\n", dev.Name())
		}
	}()

	c, err := dev.Open()
	if err != nil {
		return err
	}
	defer func() {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil && retErr == nil {
			retErr = err
		}
	}()

	ioctl := func(nr uapi.Nr, arg any) error {
		if errno := c.Ioctl(nr, arg); errno != 0 {
			return &ioctlError{nr: nr, errno: errno}
		}
		return nil
	}

	pageSize := uint64(dev.PageSize())
	get := func(p uapi.Param) (uint64, error) {
		arg := &uapi.GetParamArgs{Param: uint64(p)}
		if err := ioctl(uapi.NrGetParam, arg); err != nil {
			return 0, err
		}
		return arg.Value, nil
	}
	pages := func(free, size uapi.Param) (string, error) {
		f, err := get(free)
		if err != nil {
			return "", err
		}
		s, err := get(size)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d/%d pages", f/pageSize, s/pageSize), nil
	}

	vram, err := pages(uapi.ParamVRAMFree, uapi.ParamVRAMSize)
	if err != nil {
		return err
	}
	gtt, err := pages(uapi.ParamGTTFree, uapi.ParamGTTSize)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "attached %s: VRAM %s, GTT %s free\n", dev.Name(), vram, gtt)

	create := &uapi.GemCreateArgs{Size: x.size, Flags: x.flags}
	if err := ioctl(uapi.NrGemCreate, create); err != nil {
		return err
	}
	domain := "VRAM"
	if uapi.DomainFlags(create.Flags) == uapi.DomainGTT {
		domain = "GTT"
	}
	fmt.Fprintf(out, "created buffer: handle %d, %d bytes in %s\n", create.Handle, create.Size, domain)

	mmap := &uapi.GemMapArgs{Handle: create.Handle}
	if err := ioctl(uapi.NrGemMap, mmap); err != nil {
		return err
	}
	m, err := dev.ResolveMapping(c, mmap.Offset, create.Size)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "mapped handle %d at offset 0x%x: %s pages %s\n", create.Handle,
		mmap.Offset, m.Domain, m.Pages)

	submit := &uapi.SubmitArgs{Commands: make([]byte, x.commands)}
	for i := range submit.Commands {
		submit.Commands[i] = byte(i)
	}
	if err := ioctl(uapi.NrSubmit, submit); err != nil {
		return err
	}
	fence := ring.FenceFromToken(submit.Fence)
	state := "pending"
	if dev.Ring().Timeline().IsSignalled(fence) {
		state = "signalled"
	}
	fmt.Fprintf(out, "submitted %d bytes: fence %s, %s\n", x.commands, fence, state)

	if err := c.WaitBuffer(ctx, handle.Handle(create.Handle)); err != nil {
		return err
	}
	fmt.Fprintf(out, "waited for handle %d\n", create.Handle)

	err = c.Close()
	c = nil
	if err != nil {
		return err
	}

	s := dev.Stats()
	fmt.Fprintf(out, "closed client: %d buffer objects,", s.Objects.Objects)
	for _, r := range s.Regions[:2] {
		fmt.Fprintf(out, " %s %d/%d pages free", r.Domain, r.Free, r.Capacity)
	}
	fmt.Fprintln(out)

	return nil
}
