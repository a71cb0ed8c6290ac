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

// Package uapi defines the request surface of a lite-gpu device: request
// numbers, argument layouts, device parameters, and the translation of
// errors to negative errno values.
package uapi

import (
	"fmt"
	"strings"

	"github.com/alexzuosh/lite-gpu/pkg/gpu/errdefs"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/region"
)

var (
	ErrUnknownRequest = fmt.Errorf("uapi: unknown request: %w", errdefs.ErrInvalidArgument)
	ErrUnknownParam   = fmt.Errorf("uapi: unknown parameter: %w", errdefs.ErrInvalidArgument)
	ErrInvalidFlags   = fmt.Errorf("uapi: invalid flags: %w", errdefs.ErrInvalidArgument)
	ErrInvalidArgs    = fmt.Errorf("uapi: invalid request arguments: %w", errdefs.ErrInvalidArgument)
)

const (
	// IoctlBase is the ioctl type of lite-gpu requests.
	IoctlBase = 'L'
)

// Nr is a request number.
type Nr uint32

const (
	NrGetParam  Nr = 0x00
	NrGemCreate Nr = 0x01
	NrGemMap    Nr = 0x02
	NrSubmit    Nr = 0x03
	NrWaitBO    Nr = 0x04
)

var nrNames = map[Nr]string{
	NrGetParam:  "GET_PARAM",
	NrGemCreate: "GEM_CREATE",
	NrGemMap:    "GEM_MAP",
	NrSubmit:    "SUBMIT_CMD",
	NrWaitBO:    "WAIT_BO",
}

// String returns the name of the request.
func (nr Nr) String() string {
	if name, ok := nrNames[nr]; ok {
		return name
	}
	return fmt.Sprintf("%%!Nr(0x%02x)", uint32(nr))
}

// Request returns the encoded read-write ioctl request for nr.
func (nr Nr) Request() uint32 {
	size := map[Nr]uint32{
		NrGetParam:  16,
		NrGemCreate: 16,
		NrGemMap:    16,
		NrSubmit:    24,
		NrWaitBO:    16,
	}[nr]
	return IOWR(IoctlBase, uint32(nr), size)
}

const (
	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
	iocRead  = 2
)

// IOWR encodes a read-write ioctl request number.
func IOWR(typ, nr, size uint32) uint32 {
	return (iocRead|iocWrite)<<iocDirShift | typ<<iocTypeShift | nr<<iocNrShift | size<<iocSizeShift
}

// Param is a device parameter queried with GetParam.
type Param uint64

const (
	ParamDeviceID Param = iota + 1
	ParamGPUFreq
	ParamVRAMSize
	ParamGTTSize
	ParamVRAMFree
	ParamGTTFree
	ParamPageSize
	ParamRingSize
	ParamEngineCount
)

var paramNames = map[Param]string{
	ParamDeviceID:    "device-id",
	ParamGPUFreq:     "gpu-freq",
	ParamVRAMSize:    "vram-size",
	ParamGTTSize:     "gtt-size",
	ParamVRAMFree:    "vram-free",
	ParamGTTFree:     "gtt-free",
	ParamPageSize:    "page-size",
	ParamRingSize:    "ring-size",
	ParamEngineCount: "engine-count",
}

// Params returns all known parameters.
func Params() []Param {
	return []Param{
		ParamDeviceID, ParamGPUFreq, ParamVRAMSize, ParamGTTSize, ParamVRAMFree,
		ParamGTTFree, ParamPageSize, ParamRingSize, ParamEngineCount,
	}
}

// ParseParam parses a parameter by name.
func ParseParam(name string) (Param, error) {
	for p, n := range paramNames {
		if strings.EqualFold(n, name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownParam, name)
}

// IsValid returns true for known parameters.
func (p Param) IsValid() bool {
	_, ok := paramNames[p]
	return ok
}

// String returns the name of the parameter.
func (p Param) String() string {
	if name, ok := paramNames[p]; ok {
		return name
	}
	return fmt.Sprintf("%%!Param(%d)", uint64(p))
}

// DomainFlags are the placement flags of a GemCreate request.
type DomainFlags uint32

const (
	DomainVRAM DomainFlags = 1 << 0
	DomainGTT  DomainFlags = 1 << 1

	domainFlagMask = DomainVRAM | DomainGTT
)

// Mask returns the placement domains selected by the flags. No domain
// flags select the default placement.
func (f DomainFlags) Mask() (region.DomainMask, error) {
	if f&^domainFlagMask != 0 {
		return 0, fmt.Errorf("%w: 0x%x", ErrInvalidFlags, uint32(f))
	}

	var domains []region.Domain
	if f&DomainVRAM != 0 {
		domains = append(domains, region.DomainVRAM)
	}
	if f&DomainGTT != 0 {
		domains = append(domains, region.DomainGTT)
	}

	return region.NewDomainMask(domains...), nil
}

// FlagsForDomain returns the domain flag for a placement domain.
func FlagsForDomain(d region.Domain) DomainFlags {
	switch d {
	case region.DomainVRAM:
		return DomainVRAM
	case region.DomainGTT:
		return DomainGTT
	}
	return 0
}

// GetParamArgs are the arguments of a GetParam request.
type GetParamArgs struct {
	Param uint64 // in
	Value uint64 // out
}

// GemCreateArgs are the arguments of a GemCreate request.
type GemCreateArgs struct {
	Size   uint64 // in: requested, out: allocated size
	Handle uint32 // out
	Flags  uint32 // in: placement, out: resident domain
}

// GemMapArgs are the arguments of a GemMap request.
type GemMapArgs struct {
	Handle uint32 // in
	Pad    uint32
	Offset uint64 // out: mmap offset
}

// SubmitArgs are the arguments of a Submit request.
type SubmitArgs struct {
	Commands []byte // in
	Engine   uint32 // in
	Fence    uint64 // out: fence token
}

// WaitArgs are the arguments of a WaitBO request.
type WaitArgs struct {
	Handle    uint32 // in
	Pad       uint32
	TimeoutNs int64 // in: 0 waits without a timeout
}
