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

// Package metrics organizes prometheus collectors into named groups which
// can be enabled selectively, by glob patterns matching group or collector
// names. Collected metrics are optionally prefixed with a common namespace
// and the name of their group. Collectors which are expensive to collect
// can be put in polled mode, in which case they are collected periodically
// and scrapes return the result of the last poll.
//
//	reg := metrics.NewRegistry()
//	reg.MustRegister("device", device.NewCollector(dev), metrics.WithGroup("gpu"))
//
//	g, err := reg.NewGatherer(
//	    metrics.WithNamespace("lite_gpu"),
//	    metrics.WithMetrics([]string{"gpu/*"}, nil),
//	)
//	if err != nil {
//	    return err
//	}
//	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
package metrics
