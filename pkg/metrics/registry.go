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
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultGroup is the group of collectors registered without one.
	DefaultGroup = "default"
)

// Registry is a set of collectors organized in groups.
type Registry struct {
	mu     sync.Mutex
	groups map[string][]*Collector
	polled map[*Collector]bool // polled at registration time
}

// RegisterOption is an option for registering a collector.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	group   string
	options []CollectorOption
}

// WithGroup registers a collector in the given group.
func WithGroup(name string) RegisterOption {
	return func(o *registerOptions) {
		if name == "" {
			name = DefaultGroup
		}
		o.group = name
	}
}

// WithCollectorOptions registers a collector with the given options.
func WithCollectorOptions(options ...CollectorOption) RegisterOption {
	return func(o *registerOptions) {
		o.options = append(o.options, options...)
	}
}

// NewRegistry creates a new, empty registry.
func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string][]*Collector),
		polled: make(map[*Collector]bool),
	}
}

// Register registers a collector with the registry.
func (r *Registry) Register(name string, collector prometheus.Collector, options ...RegisterOption) error {
	opts := &registerOptions{group: DefaultGroup}
	for _, o := range options {
		o(opts)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.groups[opts.group] {
		if c.name == name {
			return fmt.Errorf("metrics: collector %s/%s already registered", opts.group, name)
		}
	}

	c := NewCollector(name, collector, opts.options...)
	c.group = opts.group
	r.groups[opts.group] = append(r.groups[opts.group], c)
	r.polled[c] = c.state.IsPolled()

	log.Info("registered collector %q", c.Name())

	return nil
}

// MustRegister registers a collector with the registry, panicking on errors.
func (r *Registry) MustRegister(name string, collector prometheus.Collector, options ...RegisterOption) {
	if err := r.Register(name, collector, options...); err != nil {
		panic(err)
	}
}

// Collectors returns all registered collectors, sorted by name.
func (r *Registry) Collectors() []*Collector {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*Collector
	for _, collectors := range r.groups {
		all = append(all, collectors...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name() < all[j].Name() })

	return all
}

// Configure enables the collectors matched by any glob in enabled or
// polled and disables the rest. Collectors matched by a glob in polled
// are put in polled mode, others are restored to their registered mode.
// Globs which match no collector are reported as an error, after all
// collectors have been configured.
func (r *Registry) Configure(enabled, polled []string) (State, error) {
	log.Info("configuring collectors, enabled=[%s], polled=[%s]",
		strings.Join(enabled, ","), strings.Join(polled, ","))

	var (
		matched = map[string]bool{}
		state   State
	)

	matches := func(c *Collector, globs []string) bool {
		match := false
		for _, glob := range globs {
			if c.Matches(glob) {
				matched[glob] = true
				match = true
			}
		}
		return match
	}

	for _, c := range r.Collectors() {
		poll := matches(c, polled)
		enable := matches(c, enabled) || poll

		r.mu.Lock()
		poll = poll || r.polled[c]
		r.mu.Unlock()

		c.Enable(enable)
		c.SetPolled(poll)
		state |= c.State()

		log.Debug("collector %q now %s", c.Name(), c.State())
	}

	var unmatched []string
	for _, glob := range slices.Concat(enabled, polled) {
		if !matched[glob] {
			unmatched = append(unmatched, glob)
		}
	}
	if len(unmatched) > 0 {
		return state, fmt.Errorf("metrics: no collectors match %s", strings.Join(unmatched, ", "))
	}

	return state, nil
}

// State returns the combined state of all collectors.
func (r *Registry) State() State {
	var state State
	for _, c := range r.Collectors() {
		state |= c.State()
	}
	return state
}

// Poll polls all enabled collectors in polled mode.
func (r *Registry) Poll() {
	var wg sync.WaitGroup
	for _, c := range r.Collectors() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Poll()
		}()
	}
	wg.Wait()
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the default registry.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register registers a collector with the default registry.
func Register(name string, collector prometheus.Collector, options ...RegisterOption) error {
	return Default().Register(name, collector, options...)
}

// MustRegister registers a collector with the default registry, panicking on errors.
func MustRegister(name string, collector prometheus.Collector, options ...RegisterOption) {
	Default().MustRegister(name, collector, options...)
}
