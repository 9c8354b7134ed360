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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/common/expfmt"

	cfgapi "github.com/gpuheap/gpuheap/pkg/apis/config/v1alpha1"
	libheap "github.com/gpuheap/gpuheap/pkg/gfx/lib/heap"
	"github.com/gpuheap/gpuheap/pkg/healthz"
	"github.com/gpuheap/gpuheap/pkg/hostmem"
	"github.com/gpuheap/gpuheap/pkg/instrumentation"
	logger "github.com/gpuheap/gpuheap/pkg/log"
	"github.com/gpuheap/gpuheap/pkg/metrics"
	"github.com/gpuheap/gpuheap/pkg/metrics/collectors"
	"github.com/gpuheap/gpuheap/pkg/version"
)

var log = logger.Default()

type options struct {
	configFile  string
	printConfig bool
	duration    time.Duration
	workers     int
	rate        float64
	maxSize     uint64
	frames      int
	window      int
	metricsDump bool
	strict      bool
}

func main() {
	opt := options{}

	flag.StringVar(&opt.configFile, "config", "", "YAML configuration file, built-in defaults if omitted.")
	flag.BoolVar(&opt.printConfig, "print-config", false, "Print the effective configuration and exit.")
	flag.DurationVar(&opt.duration, "duration", 10*time.Second, "Duration of the simulation.")
	flag.IntVar(&opt.workers, "workers", 4, "Number of concurrent workers.")
	flag.Float64Var(&opt.rate, "rate", 1000, "Acquisitions per second per worker, 0 for unlimited.")
	flag.Uint64Var(&opt.maxSize, "max-size", 4<<20, "Maximum size of a single acquisition.")
	flag.IntVar(&opt.frames, "frames", 60, "Frames per second for caches with frame-delayed release.")
	flag.IntVar(&opt.window, "window", 256, "Maximum number of live allocations per worker.")
	flag.BoolVar(&opt.metricsDump, "metrics-dump", false, "Dump heap metrics at exit.")
	flag.BoolVar(&opt.strict, "strict", false, "Fail on backing memory exhaustion.")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		log.Error("unexpected command line arguments: %v", args)
		flag.Usage()
		os.Exit(1)
	}

	if err := run(&opt); err != nil {
		log.Error("%v", err)
		logger.Flush()
		os.Exit(1)
	}

	logger.Flush()
}

func run(opt *options) error {
	cfg, err := loadConfig(opt.configFile)
	if err != nil {
		return err
	}

	if opt.printConfig {
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	}

	if err := logger.Configure(&cfg.Log); err != nil {
		return errors.Wrap(err, "failed to configure logging")
	}
	logger.SetSlogLogger("")
	logger.SetupDebugToggleSignal(syscall.SIGUSR1)
	defer logger.ClearDebugToggleSignal()

	log.Info("gpuheap-sim (version %s, build %s) starting...", version.Version, version.Build)

	provider, caches, err := setup(cfg)
	if err != nil {
		return err
	}

	if err := instrumentation.Reconfigure(&cfg.Instrumentation); err != nil {
		return errors.Wrap(err, "failed to set up instrumentation")
	}
	defer instrumentation.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, opt.duration)
	defer cancelTimeout()

	sim := newSimulator(caches, opt)
	simErr := sim.Run(ctx)

	sim.Report(os.Stdout)

	if opt.metricsDump {
		if err := dumpMetrics(); err != nil {
			log.Error("failed to dump metrics: %v", err)
		}
	}

	if err := teardown(provider, caches); err != nil {
		simErr = multierror.Append(simErr, err)
	}

	return simErr
}

func loadConfig(path string) (*cfgapi.Config, error) {
	if path == "" {
		return cfgapi.DefaultConfig(), nil
	}
	return cfgapi.Load(path)
}

func setup(cfg *cfgapi.Config) (*hostmem.Provider, []*libheap.Cache, error) {
	opts := []hostmem.Option{hostmem.WithLimit(cfg.ProviderLimit())}
	if !cfg.ProviderMapped() {
		opts = append(opts, hostmem.WithoutMapping())
	}

	provider, err := hostmem.NewProvider(opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create backing memory provider")
	}

	caches := make([]*libheap.Cache, 0, len(cfg.Caches))
	for i := range cfg.Caches {
		c, err := libheap.NewCache(provider, cfg.Caches[i].Options()...)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to create cache %s", cfg.Caches[i].Name)
		}
		caches = append(caches, c)
	}

	if len(caches) == 0 {
		return nil, nil, errors.New("no caches configured")
	}

	if err := collectors.RegisterCaches(nil, "caches", caches...); err != nil {
		return nil, nil, errors.Wrap(err, "failed to register heap metrics")
	}
	if err := collectors.RegisterProvider(nil, "hostmem", provider); err != nil {
		return nil, nil, errors.Wrap(err, "failed to register backing memory metrics")
	}

	if err := healthz.RegisterHealthChecker("provider", providerHealth(provider)); err != nil {
		return nil, nil, err
	}

	return provider, caches, nil
}

// providerHealth reports degraded health once backing memory is close to
// its limit.
func providerHealth(p *hostmem.Provider) healthz.CheckFn {
	return func() (healthz.Status, error) {
		limit := p.Limit()
		if limit == 0 {
			return healthz.Healthy, nil
		}
		if inUse := p.InUse(); inUse > limit/10*9 {
			return healthz.Degraded, fmt.Errorf("%s of %s backing memory in use",
				humanize.IBytes(inUse), humanize.IBytes(limit))
		}
		return healthz.Healthy, nil
	}
}

func dumpMetrics() error {
	g, err := metrics.NewGatherer(
		metrics.WithNamespace(instrumentation.Namespace),
		metrics.WithMetrics([]string{collectors.HeapGroup}, nil),
		metrics.WithoutPolling(),
	)
	if err != nil {
		return err
	}
	defer g.Stop()

	families, err := g.Gather()
	if err != nil {
		return err
	}

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			return err
		}
	}

	return nil
}

func teardown(provider *hostmem.Provider, caches []*libheap.Cache) error {
	var errs *multierror.Error

	for _, c := range caches {
		c.DumpState("final ")
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "failed to close cache %s", c.Name()))
		}
	}

	if err := provider.Close(); err != nil {
		errs = multierror.Append(errs, errors.Wrap(err, "failed to close provider"))
	}

	return errs.ErrorOrNil()
}
