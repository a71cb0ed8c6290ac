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

package healthz

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	logger "github.com/alexzuosh/lite-gpu/pkg/log"
)

// CheckFn checks the health of a component.
type CheckFn func() (status Status, details error)

// Status describes the health of a component or the whole.
type Status int

const (
	Healthy Status = iota
	Degraded
	NonFunctional
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case NonFunctional:
		return "non-functional"
	}
	return fmt.Sprintf("%%!Status(%d)", int(s))
}

// Checker is a set of named health checks.
type Checker struct {
	lock     sync.Mutex
	checkers map[string]CheckFn
}

var (
	log = logger.NewLogger("health-check")

	defaultChecker = NewChecker()
)

// NewChecker creates a new, empty set of health checks.
func NewChecker() *Checker {
	return &Checker{
		checkers: map[string]CheckFn{},
	}
}

// Register registers a health check function with the given name.
func (c *Checker) Register(name string, fn CheckFn) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if _, conflict := c.checkers[name]; conflict {
		return fmt.Errorf("healthz: checker %q already registered", name)
	}

	c.checkers[name] = fn
	return nil
}

// Unregister removes a health check.
func (c *Checker) Unregister(name string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.checkers, name)
}

// Check runs all health checks, in name order, and returns the worst
// status with the details reported by unhealthy components.
func (c *Checker) Check() (Status, map[string]error) {
	c.lock.Lock()
	names := make([]string, 0, len(c.checkers))
	for name := range c.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]CheckFn, len(c.checkers))
	for name, fn := range c.checkers {
		checkers[name] = fn
	}
	c.lock.Unlock()

	slices.Sort(names)

	status := Healthy
	details := map[string]error{}
	for _, name := range names {
		s, err := checkers[name]()
		if s == Healthy {
			continue
		}
		status = max(status, s)
		if err != nil {
			details[name] = err
			log.Errorf("component %s reported %s: %v", name, s, err)
		}
	}

	return status, details
}

// ServeHTTP serves the combined health status, 200 with "ok" if all
// components are healthy and 500 with the reported details otherwise.
func (c *Checker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status, details := c.Check()

	var (
		code = http.StatusOK
		body = "ok"
	)

	if status != Healthy {
		names := make([]string, 0, len(details))
		for name := range details {
			names = append(names, name)
		}
		slices.Sort(names)

		lines := []string{status.String()}
		for _, name := range names {
			lines = append(lines, fmt.Sprintf("%s: %v", name, details[name]))
		}

		code = http.StatusInternalServerError
		body = strings.Join(lines, "\n") + "\n"
	}

	w.WriteHeader(code)
	if _, err := w.Write([]byte(body)); err != nil {
		log.Errorf("failed to write response: %v", err)
	}
}

// Setup prepares the given HTTP request multiplexer for serving the
// default health checks.
func Setup(mux *http.ServeMux) {
	mux.Handle("/healthz", defaultChecker)
}

// RegisterHealthChecker registers a health check with the default checker.
func RegisterHealthChecker(name string, fn CheckFn) {
	if err := defaultChecker.Register(name, fn); err != nil {
		panic(err)
	}
}

// Default returns the default checker.
func Default() *Checker {
	return defaultChecker
}
