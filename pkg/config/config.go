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

// Package config loads, defaults and validates lite-gpu configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	cfgapi "github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1"
	"github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1/metrics"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/region"
	logger "github.com/alexzuosh/lite-gpu/pkg/log"
)

const (
	DefaultVRAMPages    = 1024
	DefaultGTTPages     = 4096
	DefaultPageSize     = "4Ki"
	DefaultRingSize     = "64Ki"
	DefaultEngines      = 1
	DefaultPollInterval = 10 * time.Millisecond
	DefaultReportPeriod = 30 * time.Second
	DefaultNamespace    = "lite_gpu"
)

var (
	// ErrInvalidConfig is returned for configuration which fails validation.
	ErrInvalidConfig = errors.New("config: invalid configuration")

	log = logger.Get("config")
)

// Default returns the default configuration.
func Default() *cfgapi.LiteGPU {
	cfg := &cfgapi.LiteGPU{}
	SetDefaults(cfg)
	return cfg
}

// Load reads configuration from the given file. Unset fields are defaulted.
func Load(path string) (*cfgapi.LiteGPU, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Info("loaded configuration from %s", path)
	return cfg, nil
}

// Parse parses YAML or JSON configuration. Unknown fields are rejected.
func Parse(data []byte) (*cfgapi.LiteGPU, error) {
	cfg := &cfgapi.LiteGPU{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse: %w", err)
	}

	if cfg.APIVersion != "" && cfg.APIVersion != cfgapi.GroupVersion {
		return nil, fmt.Errorf("%w: unsupported apiVersion %q", ErrInvalidConfig, cfg.APIVersion)
	}
	if cfg.Kind != "" && cfg.Kind != cfgapi.Kind {
		return nil, fmt.Errorf("%w: unsupported kind %q", ErrInvalidConfig, cfg.Kind)
	}

	SetDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SetDefaults fills in unset fields with their defaults.
func SetDefaults(cfg *cfgapi.LiteGPU) {
	cfg.APIVersion = cfgapi.GroupVersion
	cfg.Kind = cfgapi.Kind

	if cfg.Name == "" {
		cfg.Name = "lite-gpu"
	}

	dev := &cfg.Spec.Device
	if dev.Name == "" {
		dev.Name = "lite-gpu0"
	}
	if dev.PageSize == nil {
		q := resource.MustParse(DefaultPageSize)
		dev.PageSize = &q
	}
	if dev.VRAM == nil && dev.VRAMPages == 0 {
		dev.VRAMPages = DefaultVRAMPages
	}
	if dev.GTT == nil && dev.GTTPages == 0 {
		dev.GTTPages = DefaultGTTPages
	}
	if dev.RingSize == nil {
		q := resource.MustParse(DefaultRingSize)
		dev.RingSize = &q
	}
	if dev.Engines == 0 {
		dev.Engines = DefaultEngines
	}
	if len(dev.Placement) == 0 {
		dev.Placement = []string{region.DomainVRAM.String(), region.DomainGTT.String()}
	}
	if dev.Consumer.PollInterval.Duration == 0 {
		dev.Consumer.PollInterval = metav1.Duration{Duration: DefaultPollInterval}
	}

	if cfg.Spec.Log.Level == "" {
		cfg.Spec.Log.Level = "info"
	}

	inst := &cfg.Spec.Instrumentation
	if inst.Namespace == "" {
		inst.Namespace = DefaultNamespace
	}
	if inst.ReportPeriod.Duration == 0 {
		inst.ReportPeriod = metav1.Duration{Duration: DefaultReportPeriod}
	}
	if inst.Metrics == nil {
		inst.Metrics = &metrics.Config{
			Enabled: []string{"gpu", "standard"},
		}
	}
}

// Validate checks the configuration for errors.
func Validate(cfg *cfgapi.LiteGPU) error {
	var errs []error

	dev := &cfg.Spec.Device
	if _, err := dev.PageSizeBytes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := dev.VRAMPageCount(); err != nil {
		errs = append(errs, err)
	}
	if _, err := dev.GTTPageCount(); err != nil {
		errs = append(errs, err)
	}
	if _, err := dev.RingBytes(); err != nil {
		errs = append(errs, err)
	}
	if dev.Engines < 1 || dev.Engines > 256 {
		errs = append(errs, fmt.Errorf("invalid engine count %d", dev.Engines))
	}
	if dev.OffsetSpacePages < 0 {
		errs = append(errs, fmt.Errorf("invalid offset space size %d", dev.OffsetSpacePages))
	}
	if dev.MaxObjects < 0 {
		errs = append(errs, fmt.Errorf("invalid object limit %d", dev.MaxObjects))
	}
	seen := map[region.Domain]bool{}
	for _, name := range dev.Placement {
		d, err := region.ParseDomain(name)
		switch {
		case err != nil:
			errs = append(errs, err)
		case !d.IsPlacement():
			errs = append(errs, fmt.Errorf("%s is not a placement domain", d))
		case seen[d]:
			errs = append(errs, fmt.Errorf("duplicate placement domain %s", d))
		}
		seen[d] = true
	}
	if dev.Consumer.Rate < 0 || dev.Consumer.Burst < 0 {
		errs = append(errs, fmt.Errorf("invalid consumer rate %v/burst %d",
			dev.Consumer.Rate, dev.Consumer.Burst))
	}
	if _, err := logger.ParseLevel(cfg.Spec.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if err := logger.ValidateKlog(&cfg.Spec.Log.Klog); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// Print writes the configuration as YAML.
func Print(w io.Writer, cfg *cfgapi.LiteGPU) error {
	if cfg == nil {
		cfg = Default()
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: failed to marshal: %w", err)
	}

	_, err = w.Write(data)
	return err
}
