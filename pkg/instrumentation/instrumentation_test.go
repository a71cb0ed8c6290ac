// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package instrumentation_test

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	cfgapi "github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1/instrumentation"
	metricscfg "github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1/metrics"
	"github.com/alexzuosh/lite-gpu/pkg/healthz"
	. "github.com/alexzuosh/lite-gpu/pkg/instrumentation"
	"github.com/alexzuosh/lite-gpu/pkg/metrics"
)

func newService(t *testing.T, export bool) (*Service, *healthz.Checker) {
	t.Helper()

	reg := metrics.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "A test gauge.",
	})
	gauge.Set(7)
	require.NoError(t, reg.Register("test", gauge, metrics.WithGroup("gpu")))

	checker := healthz.NewChecker()

	cfg := &cfgapi.Config{
		HTTPEndpoint:     "127.0.0.1:0",
		PrometheusExport: export,
		Namespace:        "lite_gpu",
		ReportPeriod:     metav1.Duration{Duration: time.Minute},
		Metrics: &metricscfg.Config{
			Enabled: []string{"gpu"},
		},
	}

	s := NewService(cfg, WithRegistry(reg), WithHealthChecker(checker))
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	return s, checker
}

func get(t *testing.T, address, path string) (int, string) {
	t.Helper()

	rpl, err := http.Get("http://" + address + path)
	require.NoError(t, err)
	defer rpl.Body.Close()

	body, err := io.ReadAll(rpl.Body)
	require.NoError(t, err)

	return rpl.StatusCode, string(body)
}

func TestPrometheusExport(t *testing.T) {
	s, _ := newService(t, true)
	address := s.Address()
	require.NotEmpty(t, address)
	require.NotNil(t, s.Gatherer())

	code, body := get(t, address, "/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "lite_gpu_gpu_test_gauge 7")
}

func TestReconfigure(t *testing.T) {
	s, _ := newService(t, false)

	code, _ := get(t, s.Address(), "/metrics")
	require.Equal(t, http.StatusNotFound, code)
	require.Nil(t, s.Gatherer())

	require.NoError(t, s.Reconfigure(&cfgapi.Config{
		HTTPEndpoint:     "127.0.0.1:0",
		PrometheusExport: true,
		Metrics:          &metricscfg.Config{Enabled: []string{"*"}},
	}))

	code, body := get(t, s.Address(), "/metrics")
	require.Equal(t, http.StatusOK, code)
	require.True(t, strings.Contains(body, "gpu_test_gauge 7"), body)

	err := s.Reconfigure(&cfgapi.Config{
		HTTPEndpoint:     "127.0.0.1:0",
		PrometheusExport: true,
		Metrics:          &metricscfg.Config{Enabled: []string{"no-such-group"}},
	})
	require.Error(t, err)
	require.Empty(t, s.Address())
}

func TestHealthz(t *testing.T) {
	s, checker := newService(t, false)

	code, body := get(t, s.Address(), "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", strings.TrimSpace(body))

	require.NoError(t, checker.Register("broken", func() (healthz.Status, error) {
		return healthz.Degraded, io.ErrUnexpectedEOF
	}))

	code, body = get(t, s.Address(), "/healthz")
	require.Equal(t, http.StatusInternalServerError, code)
	require.Contains(t, body, "broken")
}

func TestDisabled(t *testing.T) {
	s := NewService(&cfgapi.Config{})
	require.NoError(t, s.Start())
	require.Empty(t, s.Address())
	s.Stop()
}
