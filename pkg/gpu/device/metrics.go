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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexzuosh/lite-gpu/pkg/gpu/region"
	"github.com/alexzuosh/lite-gpu/pkg/metrics"
)

// MetricsGroup is the metrics group device collectors are registered in.
const MetricsGroup = "gpu"

const (
	descRegionCapacity = iota
	descRegionFree
	descRegionLargestFree
	descRegionFreeRanges
	descObjectCount
	descObjectBytes
	descObjectsCreated
	descObjectsDestroyed
	descObjectsFailed
	descRingCapacity
	descRingUsed
	descRingPending
	descRingSubmitted
	descRingConsumed
	descRingRejected
	descClients
	descCount
)

// Collector collects prometheus metrics about a device.
type Collector struct {
	dev         *Device
	descriptors []*prometheus.Desc
}

// NewCollector creates a metrics collector for the device.
func NewCollector(d *Device) *Collector {
	labels := prometheus.Labels{"device": d.name}
	domain := []string{"domain"}

	desc := func(name, help string, variable []string) *prometheus.Desc {
		return prometheus.NewDesc(name, help, variable, labels)
	}

	descriptors := make([]*prometheus.Desc, descCount)
	descriptors[descRegionCapacity] = desc(
		"region_capacity_pages",
		"Number of pages in a memory region.",
		domain,
	)
	descriptors[descRegionFree] = desc(
		"region_free_pages",
		"Number of free pages in a memory region.",
		domain,
	)
	descriptors[descRegionLargestFree] = desc(
		"region_largest_free_pages",
		"Number of pages in the largest free range of a memory region.",
		domain,
	)
	descriptors[descRegionFreeRanges] = desc(
		"region_free_ranges",
		"Number of free ranges in a memory region.",
		domain,
	)
	descriptors[descObjectCount] = desc(
		"buffer_objects",
		"Number of live buffer objects.",
		domain,
	)
	descriptors[descObjectBytes] = desc(
		"buffer_object_bytes",
		"Bytes allocated to live buffer objects.",
		domain,
	)
	descriptors[descObjectsCreated] = desc(
		"buffer_objects_created_total",
		"Number of buffer objects created.",
		nil,
	)
	descriptors[descObjectsDestroyed] = desc(
		"buffer_objects_destroyed_total",
		"Number of buffer objects destroyed.",
		nil,
	)
	descriptors[descObjectsFailed] = desc(
		"buffer_object_failures_total",
		"Number of failed buffer object creations.",
		nil,
	)
	descriptors[descRingCapacity] = desc(
		"ring_capacity_bytes",
		"Capacity of the command ring.",
		nil,
	)
	descriptors[descRingUsed] = desc(
		"ring_used_bytes",
		"Bytes of unconsumed commands and padding in the command ring.",
		nil,
	)
	descriptors[descRingPending] = desc(
		"ring_pending_commands",
		"Number of unconsumed commands in the command ring.",
		nil,
	)
	descriptors[descRingSubmitted] = desc(
		"ring_submitted_total",
		"Number of commands submitted to the command ring.",
		nil,
	)
	descriptors[descRingConsumed] = desc(
		"ring_consumed_total",
		"Number of commands consumed from the command ring.",
		nil,
	)
	descriptors[descRingRejected] = desc(
		"ring_rejected_total",
		"Number of submissions rejected by the command ring.",
		nil,
	)
	descriptors[descClients] = desc(
		"clients",
		"Number of open clients.",
		nil,
	)

	return &Collector{
		dev:         d,
		descriptors: descriptors,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if !c.dev.IsAttached() {
		return
	}

	s := c.dev.Stats()

	gauge := func(idx int, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(c.descriptors[idx], prometheus.GaugeValue, value, labels...)
	}
	counter := func(idx int, value float64) {
		ch <- prometheus.MustNewConstMetric(c.descriptors[idx], prometheus.CounterValue, value)
	}

	for _, r := range s.Regions {
		domain := r.Domain.String()
		gauge(descRegionCapacity, float64(r.Capacity), domain)
		gauge(descRegionFree, float64(r.Free), domain)
		gauge(descRegionLargestFree, float64(r.LargestFree), domain)
		gauge(descRegionFreeRanges, float64(r.FreeRanges), domain)
	}

	for _, d := range region.DomainMaskAll.Slice() {
		gauge(descObjectCount, float64(s.Objects.Count[d]), d.String())
		gauge(descObjectBytes, float64(s.Objects.Bytes[d]), d.String())
	}
	counter(descObjectsCreated, float64(s.Objects.Created))
	counter(descObjectsDestroyed, float64(s.Objects.Destroyed))
	counter(descObjectsFailed, float64(s.Objects.Failed))

	gauge(descRingCapacity, float64(s.Ring.Capacity))
	gauge(descRingUsed, float64(s.Ring.Used))
	gauge(descRingPending, float64(s.Ring.Pending))
	counter(descRingSubmitted, float64(s.Ring.Submitted))
	counter(descRingConsumed, float64(s.Ring.Consumed))
	counter(descRingRejected, float64(s.Ring.Rejected))

	gauge(descClients, float64(s.Clients))
}

// RegisterMetrics registers a collector for the device in the metrics
// group of devices of the registry.
func (d *Device) RegisterMetrics(r *metrics.Registry) error {
	return r.Register(d.name, NewCollector(d),
		metrics.WithGroup(MetricsGroup),
		metrics.WithCollectorOptions(metrics.WithoutSubsystem()),
	)
}
