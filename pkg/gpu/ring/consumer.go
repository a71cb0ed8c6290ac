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

package ring

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultPollInterval is the default interval of a Consumer.
	DefaultPollInterval = 10 * time.Millisecond
)

// Handler processes a command drained from the ring.
type Handler func(cmd Command, payload []byte)

// Consumer is a stub hardware consumer which periodically drains a ring,
// optionally limiting the rate of consumed commands.
type Consumer struct {
	ring     *Ring
	limiter  *rate.Limiter
	interval time.Duration
	handler  Handler
}

// ConsumerOption is an option for a Consumer.
type ConsumerOption func(*Consumer)

// WithRate limits consumption to perSecond commands with the given burst.
func WithRate(perSecond float64, burst int) ConsumerOption {
	return func(c *Consumer) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithPollInterval sets the interval the ring is polled at.
func WithPollInterval(interval time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if interval > 0 {
			c.interval = interval
		}
	}
}

// WithHandler sets the function called for every consumed command.
func WithHandler(fn Handler) ConsumerOption {
	return func(c *Consumer) {
		c.handler = fn
	}
}

// NewConsumer creates a consumer for the ring.
func NewConsumer(r *Ring, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		ring:     r,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		interval: DefaultPollInterval,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Poll drains as many commands as the rate limit allows right now and
// returns the number of commands consumed.
func (c *Consumer) Poll() int {
	count := 0
	for {
		res := c.limiter.Reserve()
		if !res.OK() || res.Delay() > 0 {
			res.Cancel()
			break
		}
		if c.ring.Drain(1, c.handler) == 0 {
			res.Cancel()
			break
		}
		count++
	}

	if count > 0 {
		log.Debug("%s: consumed %d commands", c.ring.name, count)
	}

	return count
}

// Run polls the ring until the context is done.
func (c *Consumer) Run(ctx context.Context) error {
	log.Info("%s: consumer started, polling every %s, limit %v/s", c.ring.name,
		c.interval, c.limiter.Limit())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("%s: consumer stopped", c.ring.name)
			return nil
		case <-ticker.C:
			c.Poll()
		}
	}
}
