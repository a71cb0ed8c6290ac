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

// Package commands implements the lite-gpu command line.
package commands

import (
	"github.com/spf13/cobra"

	cfgapi "github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1"
	"github.com/alexzuosh/lite-gpu/pkg/config"
	logger "github.com/alexzuosh/lite-gpu/pkg/log"
)

var (
	log = logger.Get("lite-gpu")
)

type options struct {
	configFile string
}

// NewRootCommand creates the lite-gpu root command with all subcommands.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "lite-gpu",
		Short: "A minimal GPU resource manager",
		Long: `lite-gpu manages the memory regions, buffer objects and command ring
of a simulated GPU device and exports its state as metrics.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "",
		"configuration file, built-in defaults if omitted")

	cmd.AddCommand(
		newRunCommand(opts),
		newExerciseCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)

	return cmd
}

// Execute runs the lite-gpu command line.
func Execute() error {
	return NewRootCommand().Execute()
}

// loadConfig loads and applies the configuration for a command.
func (o *options) loadConfig() (*cfgapi.LiteGPU, error) {
	var (
		cfg *cfgapi.LiteGPU
		err error
	)

	if o.configFile == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(o.configFile)
		if err != nil {
			return nil, err
		}
	}

	if err := logger.Configure(&cfg.Spec.Log); err != nil {
		return nil, err
	}

	return cfg, nil
}
