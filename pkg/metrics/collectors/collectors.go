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

package collectors

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	logger "github.com/alexzuosh/lite-gpu/pkg/log"
	"github.com/alexzuosh/lite-gpu/pkg/metrics"
	"github.com/alexzuosh/lite-gpu/pkg/version"
)

const (
	// Group is the metrics group of the standard collectors.
	Group = "standard"
)

var (
	log = logger.Get("metrics")
)

// NewVersionInfoCollector returns a constant gauge labeled with version and build.
func NewVersionInfoCollector(v, b string) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "version_info",
			Help: "A metric with constant '1' value labeled by version and build info.",
			ConstLabels: prometheus.Labels{
				"version": v,
				"build":   b,
			},
		},
		func() float64 { return 1 },
	)
}

// Register registers the Go runtime, process, build and version info
// collectors in the standard group, without namespace or group prefix.
func Register(r *metrics.Registry) error {
	var (
		standard = []struct {
			name      string
			collector prometheus.Collector
		}{
			{"buildinfo", collectors.NewBuildInfoCollector()},
			{"golang", collectors.NewGoCollector()},
			{"process", collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})},
			{"versioninfo", NewVersionInfoCollector(version.Version, version.Build)},
		}
		options = []metrics.RegisterOption{
			metrics.WithGroup(Group),
			metrics.WithCollectorOptions(
				metrics.WithoutNamespace(),
				metrics.WithoutSubsystem(),
			),
		}
	)

	for _, s := range standard {
		if err := r.Register(s.name, s.collector, options...); err != nil {
			log.Error("failed to register %s collector: %v", s.name, err)
			return err
		}
	}

	return nil
}
