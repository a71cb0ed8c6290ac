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

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
)

const (
	// MinPollInterval is the shortest allowed polling interval.
	MinPollInterval = time.Second
	// DefaultPollInterval is the default polling interval.
	DefaultPollInterval = 30 * time.Second
)

// Gatherer is a prometheus.Gatherer for the enabled collectors of a
// Registry. It periodically polls collectors in polled mode.
type Gatherer struct {
	*prometheus.Registry
	reg       *Registry
	namespace string
	interval  time.Duration
	enabled   []string
	polled    []string
	lock      sync.Mutex
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// GathererOption is an option for a Gatherer.
type GathererOption func(*Gatherer)

// WithNamespace sets the namespace prefix of gathered metrics.
func WithNamespace(namespace string) GathererOption {
	return func(g *Gatherer) {
		g.namespace = namespace
	}
}

// WithPollInterval sets the polling interval of the gatherer.
func WithPollInterval(interval time.Duration) GathererOption {
	return func(g *Gatherer) {
		g.interval = max(interval, MinPollInterval)
	}
}

// WithoutPolling disables periodic polling. Collectors in polled mode
// are then only polled by explicit calls to Poll.
func WithoutPolling() GathererOption {
	return func(g *Gatherer) {
		g.interval = 0
	}
}

// WithMetrics sets the globs of enabled and polled collectors.
func WithMetrics(enabled, polled []string) GathererOption {
	return func(g *Gatherer) {
		g.enabled = enabled
		g.polled = polled
	}
}

// NewGatherer configures the registry and creates a gatherer for it.
func (r *Registry) NewGatherer(options ...GathererOption) (*Gatherer, error) {
	g := &Gatherer{
		Registry: prometheus.NewPedanticRegistry(),
		reg:      r,
		interval: DefaultPollInterval,
	}
	for _, o := range options {
		o(g)
	}

	if _, err := r.Configure(g.enabled, g.polled); err != nil {
		return nil, err
	}

	var (
		plain prometheus.Registerer = g.Registry
		ns                          = prefixed(g.namespace, plain)
	)

	for _, c := range r.Collectors() {
		var (
			state = c.State()
			reg   = plain
		)
		if state.NeedsNamespace() {
			reg = ns
		}
		if state.NeedsSubsystem() {
			reg = prefixed(c.group, reg)
		}
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	g.start()

	return g, nil
}

// NewGatherer creates a gatherer for the default registry.
func NewGatherer(options ...GathererOption) (*Gatherer, error) {
	return Default().NewGatherer(options...)
}

func prefixed(prefix string, reg prometheus.Registerer) prometheus.Registerer {
	if prefix == "" {
		return reg
	}
	return prometheus.WrapRegistererWithPrefix(prefix+"_", reg)
}

// Gather implements prometheus.Gatherer.
func (g *Gatherer) Gather() ([]*model.MetricFamily, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.Registry.Gather()
}

// Poll polls all collectors in polled mode.
func (g *Gatherer) Poll() {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.reg.Poll()
}

func (g *Gatherer) start() {
	if !g.reg.State().IsPolled() {
		log.Info("no collectors in polled mode, not polling")
		return
	}

	g.Poll()

	if g.interval == 0 {
		log.Info("periodic polling disabled")
		return
	}

	log.Info("polling collectors every %s", g.interval)

	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})

	go func() {
		defer close(g.doneCh)

		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()

		for {
			select {
			case <-g.stopCh:
				return
			case <-ticker.C:
				g.Poll()
			}
		}
	}()
}

// Stop stops periodic polling.
func (g *Gatherer) Stop() {
	if g.stopCh == nil {
		return
	}
	close(g.stopCh)
	<-g.doneCh
	g.stopCh = nil
}
