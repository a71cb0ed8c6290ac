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

package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	devcfg "github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1/device"
	instcfg "github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/device"
	"github.com/alexzuosh/lite-gpu/pkg/gpu/ring"
	"github.com/alexzuosh/lite-gpu/pkg/healthz"
	"github.com/alexzuosh/lite-gpu/pkg/instrumentation"
	"github.com/alexzuosh/lite-gpu/pkg/metrics"
	"github.com/alexzuosh/lite-gpu/pkg/metrics/collectors"
)

func newRunCommand(opts *options) *cobra.Command {
	var endpoint string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach a device and serve it until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if endpoint != "" {
				cfg.Spec.Instrumentation.HTTPEndpoint = endpoint
				cfg.Spec.Instrumentation.PrometheusExport = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg.Spec.Device, cfg.Spec.Instrumentation,
				metrics.NewRegistry(), healthz.NewChecker())
		},
	}

	cmd.Flags().StringVar(&endpoint, "http-endpoint", "",
		"serve /metrics and /healthz on this address, overriding the configuration")

	return cmd
}

func run(ctx context.Context, devCfg devcfg.Config, instCfg instcfg.Config,
	reg *metrics.Registry, checker *healthz.Checker) (retErr error) {
	dev, err := device.AttachConfig(&devCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Detach(); err != nil && retErr == nil {
			retErr = err
		}
	}()

	if err := collectors.Register(reg); err != nil {
		return errors.Wrap(err, "failed to register standard collectors")
	}
	if err := dev.RegisterMetrics(reg); err != nil {
		return errors.Wrap(err, "failed to register device collector")
	}
	if err := dev.RegisterHealthCheck(checker); err != nil {
		return errors.Wrap(err, "failed to register device health check")
	}

	svc := instrumentation.NewService(&instCfg,
		instrumentation.WithRegistry(reg),
		instrumentation.WithHealthChecker(checker),
	)
	if err := svc.Start(); err != nil {
		return errors.Wrap(err, "failed to start instrumentation")
	}
	defer svc.Stop()

	consumer := dev.NewConsumer(
		ring.WithPollInterval(devCfg.Consumer.PollInterval.Duration),
		ring.WithRate(devCfg.Consumer.Rate, devCfg.Consumer.Burst),
		ring.WithHandler(func(cmd ring.Command, _ []byte) {
			log.Debug("consumed %d bytes for engine %d, fence %s", cmd.Length, cmd.Engine, cmd.Fence)
		}),
	)

	log.Info("device %s running", dev.Name())

	if err := consumer.Run(ctx); err != nil {
		return err
	}

	log.Info("shutting down device %s", dev.Name())
	dev.DumpState("shutdown: ")

	return nil
}
