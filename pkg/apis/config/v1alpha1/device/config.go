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

	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Config provides the configuration of a lite-gpu device instance.
// Region sizes can be given either as quantities of bytes or as page
// counts, but not both.
type Config struct {
	// Name of the device instance.
	// +optional
	Name string `json:"name,omitempty"`
	// DeviceID is reported as the device-id parameter.
	// +optional
	DeviceID uint64 `json:"deviceID,omitempty"`
	// GPUFreqMHz is reported as the gpu-freq parameter.
	// +optional
	GPUFreqMHz uint64 `json:"gpuFreqMHz,omitempty"`
	// PageSize is the page size, a power of 2.
	// +optional
	// +kubebuilder:default="4Ki"
	PageSize *resource.Quantity `json:"pageSize,omitempty"`
	// VRAM is the size of device local memory.
	// +optional
	VRAM *resource.Quantity `json:"vram,omitempty"`
	// VRAMPages is the size of device local memory in pages.
	// +optional
	VRAMPages int64 `json:"vramPages,omitempty"`
	// GTT is the size of the host visible aliasing window.
	// +optional
	GTT *resource.Quantity `json:"gtt,omitempty"`
	// GTTPages is the size of the host visible aliasing window in pages.
	// +optional
	GTTPages int64 `json:"gttPages,omitempty"`
	// OffsetSpacePages is the size of the mmap offset space in pages.
	// Defaults to the combined VRAM and GTT page count.
	// +optional
	OffsetSpacePages int64 `json:"offsetSpacePages,omitempty"`
	// RingSize is the capacity of the command ring.
	// +optional
	// +kubebuilder:default="64Ki"
	RingSize *resource.Quantity `json:"ringSize,omitempty"`
	// Engines is the number of engines commands can be submitted to.
	// +optional
	// +kubebuilder:default=1
	Engines int `json:"engines,omitempty"`
	// Placement is the default placement order of buffer objects.
	// +optional
	// +kubebuilder:default={"VRAM","GTT"}
	Placement []string `json:"placement,omitempty"`
	// MaxObjects limits the number of live buffer objects, 0 for no limit.
	// +optional
	MaxObjects int `json:"maxObjects,omitempty"`
	// StrictChecks turns lifecycle invariant violations into panics.
	// +optional
	StrictChecks bool `json:"strictChecks,omitempty"`
	// Consumer configures the stub ring consumer.
	// +optional
	Consumer ConsumerConfig `json:"consumer,omitempty"`
}

// ConsumerConfig configures the stub ring consumer.
type ConsumerConfig struct {
	// PollInterval is the interval the ring is drained at.
	// +optional
	// +kubebuilder:validation:Format="duration"
	// +kubebuilder:default="10ms"
	PollInterval metav1.Duration `json:"pollInterval,omitempty"`
	// Rate limits consumed commands per second, 0 for no limit.
	// +optional
	Rate float64 `json:"rate,omitempty"`
	// Burst is the number of commands consumed at once when rate limited.
	// +optional
	Burst int `json:"burst,omitempty"`
}

// PageSizeBytes returns the page size in bytes.
func (c *Config) PageSizeBytes() (int64, error) {
	if c.PageSize == nil {
		return 0, fmt.Errorf("page size not set")
	}
	size, ok := c.PageSize.AsInt64()
	if !ok || size <= 0 || size&(size-1) != 0 {
		return 0, fmt.Errorf("invalid page size %s, must be a power of 2", c.PageSize)
	}
	return size, nil
}

// VRAMPageCount returns the size of VRAM in pages.
func (c *Config) VRAMPageCount() (int64, error) {
	return c.pageCount("vram", c.VRAM, c.VRAMPages)
}

// GTTPageCount returns the size of GTT in pages.
func (c *Config) GTTPageCount() (int64, error) {
	return c.pageCount("gtt", c.GTT, c.GTTPages)
}

// RingBytes returns the capacity of the command ring in bytes.
func (c *Config) RingBytes() (int, error) {
	if c.RingSize == nil {
		return 0, fmt.Errorf("ring size not set")
	}
	size, ok := c.RingSize.AsInt64()
	if !ok || size <= 0 || size > 1<<30 {
		return 0, fmt.Errorf("invalid ring size %s", c.RingSize)
	}
	return int(size), nil
}

func (c *Config) pageCount(name string, size *resource.Quantity, pages int64) (int64, error) {
	pageSize, err := c.PageSizeBytes()
	if err != nil {
		return 0, err
	}

	switch {
	case size == nil && pages <= 0:
		return 0, fmt.Errorf("%s size not set", name)
	case size == nil:
		return pages, nil
	}

	bytes, ok := size.AsInt64()
	if !ok || bytes <= 0 || bytes%pageSize != 0 {
		return 0, fmt.Errorf("invalid %s size %s, must be a multiple of page size %d",
			name, size, pageSize)
	}
	if pages > 0 && pages != bytes/pageSize {
		return 0, fmt.Errorf("conflicting %s size %s and %d pages", name, size, pages)
	}

	return bytes / pageSize, nil
}
