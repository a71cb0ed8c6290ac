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

package metrics_test

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"github.com/alexzuosh/lite-gpu/pkg/metrics"
	"github.com/alexzuosh/lite-gpu/pkg/metrics/collectors"
)

func TestMetricsDescriptors(t *testing.T) {
	r := metrics.NewRegistry()

	for _, name := range []string{"test1", "test2", "test3"} {
		newTestGauge(t, r, name, metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	}

	srv := newTestServer(t, r, []string{"*"}, nil)
	described, _ := srv.collect(t)

	require.True(t, described.HasEntry("test1", "gauge"))
	require.True(t, described.HasEntry("test2", "gauge"))
	require.True(t, described.HasEntry("test3", "gauge"))
}

func TestPrefixes(t *testing.T) {
	r := metrics.NewRegistry()

	newTestGauge(t, r, "plain",
		metrics.WithCollectorOptions(metrics.WithoutNamespace(), metrics.WithoutSubsystem()))
	newTestGauge(t, r, "grouped", metrics.WithGroup("ring"),
		metrics.WithCollectorOptions(metrics.WithoutNamespace()))
	newTestGauge(t, r, "namespaced", metrics.WithGroup("ring"),
		metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	newTestGauge(t, r, "full", metrics.WithGroup("ring"))
	newTestGauge(t, r, "defaulted")

	srv := newTestServer(t, r, []string{"*"}, nil, metrics.WithNamespace("lite_gpu"))
	_, collected := srv.collect(t)

	require.Equal(t, "0", collected.GetValue("plain"))
	require.Equal(t, "0", collected.GetValue("ring_grouped"))
	require.Equal(t, "0", collected.GetValue("lite_gpu_namespaced"))
	require.Equal(t, "0", collected.GetValue("lite_gpu_ring_full"))
	require.Equal(t, "0", collected.GetValue("lite_gpu_default_defaulted"))
}

func TestUpdatedMetricsCollection(t *testing.T) {
	r := metrics.NewRegistry()

	g1 := newTestGauge(t, r, "test1", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	g2 := newTestGauge(t, r, "test2", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))

	srv := newTestServer(t, r, []string{"*"}, nil)

	_, collected := srv.collect(t)
	require.Equal(t, "0", collected.GetValue("test1"))
	require.Equal(t, "0", collected.GetValue("test2"))

	g1.gauge.Inc()
	g2.gauge.Set(5)

	_, collected = srv.collect(t)
	require.Equal(t, "1", collected.GetValue("test1"))
	require.Equal(t, "5", collected.GetValue("test2"))
}

func TestMetricsConfiguration(t *testing.T) {
	r := metrics.NewRegistry()

	newTestGauge(t, r, "test1", metrics.WithGroup("group1"))
	newTestGauge(t, r, "test2", metrics.WithGroup("group1"),
		metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	newTestGauge(t, r, "test3", metrics.WithGroup("group2"),
		metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	newTestGauge(t, r, "test4", metrics.WithGroup("group2"))

	srv := newTestServer(t, r, []string{"test1", "group2"}, nil)
	_, collected := srv.collect(t)

	require.True(t, collected.HasEntry("group1_test1"), "group1_test1 collected")
	require.False(t, collected.HasEntry("test2"), "test2 not collected")
	require.True(t, collected.HasEntry("test3"), "test3 collected")
	require.True(t, collected.HasEntry("group2_test4"), "group2_test4 collected")

	_, err := r.Configure([]string{"test1", "nosuch*"}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nosuch*")
}

func TestDuplicateRegistration(t *testing.T) {
	r := metrics.NewRegistry()
	newTestGauge(t, r, "test1", metrics.WithGroup("group1"))
	newTestGauge(t, r, "test1", metrics.WithGroup("group2"))

	err := r.Register("test1", prometheus.NewGauge(prometheus.GaugeOpts{Name: "x", Help: "x"}),
		metrics.WithGroup("group1"))
	require.Error(t, err)
}

func TestMetricsPolling(t *testing.T) {
	r := metrics.NewRegistry()

	p1 := newTestPolled(t, r, "test1", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	p2 := newTestPolled(t, r, "test2", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))

	srv := newTestServer(t, r, nil, []string{"*"}, metrics.WithoutPolling())

	_, collected := srv.collect(t)
	require.Equal(t, "0", collected.GetValue("test1"))
	require.Equal(t, "0", collected.GetValue("test2"))

	p1.Set(2)
	p2.Set(7)

	_, collected = srv.collect(t)
	require.Equal(t, "0", collected.GetValue("test1"), "stale until polled")
	require.Equal(t, "0", collected.GetValue("test2"), "stale until polled")

	srv.g.Poll()

	_, collected = srv.collect(t)
	require.Equal(t, "2", collected.GetValue("test1"))
	require.Equal(t, "7", collected.GetValue("test2"))

	// reconfiguring without polling restores normal collection
	_, err := r.Configure([]string{"*"}, nil)
	require.NoError(t, err)
	p1.Set(3)

	_, collected = srv.collect(t)
	require.Equal(t, "3", collected.GetValue("test1"))
}

func TestStandardCollectors(t *testing.T) {
	r := metrics.NewRegistry()
	require.NoError(t, collectors.Register(r))

	srv := newTestServer(t, r, []string{"standard"}, nil, metrics.WithNamespace("lite_gpu"))
	_, collected := srv.collect(t)

	require.Equal(t, "1", collected.GetValue(`version_info{build="unknown",version="unknown"}`))
	require.True(t, collected.HasEntry("go_goroutines"))
}

func TestState(t *testing.T) {
	s := metrics.Enabled | metrics.Polled
	require.Equal(t, "enabled,polled", s.String())
	require.Equal(t, "disabled,namespace-prefixed", metrics.NamespacePrefix.String())
}

type testGauge struct {
	gauge prometheus.Gauge
}

func newTestGauge(t *testing.T, r *metrics.Registry, name string, options ...metrics.RegisterOption) *testGauge {
	g := &testGauge{
		gauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: name,
				Help: "Test gauge " + name,
			},
		),
	}
	require.NoError(t, r.Register(name, g.gauge, options...))
	return g
}

type testPolled struct {
	desc  *prometheus.Desc
	value int
}

func newTestPolled(t *testing.T, r *metrics.Registry, name string, options ...metrics.RegisterOption) *testPolled {
	p := &testPolled{
		desc: prometheus.NewDesc(name, "Help for metric "+name, nil, nil),
	}
	require.NoError(t, r.Register(name, p, options...))
	return p
}

func (p *testPolled) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.desc
}

func (p *testPolled) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(p.desc, prometheus.GaugeValue, float64(p.value))
}

func (p *testPolled) Set(v int) {
	p.value = v
}

type described []string

func (d described) HasEntry(name, kind string) bool {
	for _, e := range d {
		split := strings.Split(e, " ")
		if len(split) >= 2 && split[0] == name && split[1] == kind {
			return true
		}
	}
	return false
}

type collected []string

func (c collected) HasEntry(name string) bool {
	return c.GetValue(name) != ""
}

func (c collected) GetValue(name string) string {
	for _, e := range c {
		if strings.HasPrefix(e, "#") {
			continue
		}
		if idx := strings.LastIndex(e, " "); idx > 0 && e[:idx] == name {
			return e[idx+1:]
		}
	}
	return ""
}

type testServer struct {
	srv *httptest.Server
	g   *metrics.Gatherer
}

func newTestServer(t *testing.T, r *metrics.Registry, enabled, polled []string, options ...metrics.GathererOption) *testServer {
	options = append([]metrics.GathererOption{metrics.WithMetrics(enabled, polled)}, options...)
	g, err := r.NewGatherer(options...)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorHandling: promhttp.PanicOnError,
	}))

	srv := &testServer{
		srv: httptest.NewServer(mux),
		g:   g,
	}
	t.Cleanup(func() {
		srv.srv.Close()
		srv.g.Stop()
	})

	return srv
}

func (srv *testServer) collect(t *testing.T) (described, collected) {
	resp, err := http.Get(srv.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var (
		types   []string
		metrics []string
		scanner = bufio.NewScanner(resp.Body)
	)

	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		e := scanner.Text()
		switch {
		case strings.HasPrefix(e, "# HELP"):
		case strings.HasPrefix(e, "# TYPE "):
			types = append(types, strings.TrimPrefix(e, "# TYPE "))
		default:
			metrics = append(metrics, e)
		}
	}

	return described(types), collected(metrics)
}
