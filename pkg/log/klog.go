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

package log

import (
	"errors"
	"flag"
	"io"
	"maps"
	"os"
	"strconv"
	"strings"
	"sync"

	"k8s.io/klog/v2"

	klogcfg "github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1/log/klogcontrol"
)

const (
	// klogEnvPrefix prefixes environment variables seeding klog settings,
	// for instance LOGGER_KLOG_V=4.
	klogEnvPrefix = "LOGGER_KLOG_"
)

// klogFlagNames are the klog flags which can be set from configuration.
var klogFlagNames = []string{
	"logtostderr",
	"alsologtostderr",
	"skip_headers",
	"skip_log_headers",
	"log_file",
	"log_dir",
	"stderrthreshold",
	"v",
}

// backend owns the klog flags and remembers what has been applied to them.
type backend struct {
	sync.Mutex
	flags   *flag.FlagSet
	applied map[string]string
}

var klogBackend = newBackend()

func newBackend() *backend {
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	klog.InitFlags(fs)

	b := &backend{
		flags:   fs,
		applied: make(map[string]string),
	}

	for _, name := range klogFlagNames {
		env := klogEnvPrefix + strings.ToUpper(name)
		value, ok := os.LookupEnv(env)
		if !ok {
			continue
		}
		if err := b.set(name, value); err != nil {
			klog.Errorf("ignoring $%s=%q: %v", env, value, err)
		}
	}

	return b
}

// set sets a single klog flag, the caller must hold the lock or own b.
func (b *backend) set(name, value string) error {
	if err := b.flags.Set(name, value); err != nil {
		return loggerError("klog %s=%q: %w", name, value, err)
	}
	b.applied[name] = value
	return nil
}

// configure applies the settings present in cfg. Absent settings keep
// their current value.
func (b *backend) configure(cfg *klogcfg.Config) error {
	if err := ValidateKlog(cfg); err != nil {
		return err
	}

	b.Lock()
	defer b.Unlock()

	var errs []error
	for _, name := range klogFlagNames {
		if value, ok := cfg.GetByFlag(name); ok {
			if err := b.set(name, value); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// ValidateKlog checks klog settings without applying them.
func ValidateKlog(cfg *klogcfg.Config) error {
	if cfg == nil {
		return nil
	}

	var errs []error
	if cfg.V != nil && *cfg.V < 0 {
		errs = append(errs, loggerError("invalid klog verbosity %d", *cfg.V))
	}
	if cfg.Stderrthreshold != nil {
		if _, err := parseSeverity(*cfg.Stderrthreshold); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// parseSeverity parses a klog severity by name or number.
func parseSeverity(value string) (int, error) {
	names := []string{"INFO", "WARNING", "ERROR", "FATAL"}
	for i, name := range names {
		if strings.EqualFold(value, name) {
			return i, nil
		}
	}
	if n, err := strconv.Atoi(value); err == nil && n >= 0 && n < len(names) {
		return n, nil
	}
	return 0, loggerError("invalid klog severity %q", value)
}

// KlogSettings returns the klog settings applied so far.
func KlogSettings() map[string]string {
	klogBackend.Lock()
	defer klogBackend.Unlock()
	return maps.Clone(klogBackend.applied)
}
