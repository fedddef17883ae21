package main

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tetratelabs/wazero"

	"github.com/wippyai/simplicity-bridge/compiler"
	"github.com/wippyai/simplicity-bridge/host"
	"github.com/wippyai/simplicity-bridge/registry"
	"github.com/wippyai/simplicity-bridge/runtime"
	"github.com/wippyai/simplicity-bridge/session"
)

// stack is the set of parts a host shell is built from.
type stack struct {
	registry   *registry.Registry
	provider   *host.Provider
	normalizer *compiler.Normalizer
	metrics    *host.Metrics
	gatherer   *prometheus.Registry
	cache      wazero.CompilationCache
}

// newStack wires registry, runtime, provider and metrics from the loaded
// configuration.
func (a *app) newStack() (*stack, error) {
	policy, err := a.cfg.Policy()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := host.NewMetrics(reg)

	cache := wazero.NewCompilationCache()
	rt := runtime.New(runtime.Config{
		Cache:            cache,
		Stderr:           os.Stderr,
		MemoryLimitPages: a.cfg.MemoryLimitPages,
	})

	r := registry.New(os.DirFS(a.cfg.DistDir), policy)
	provider := host.NewProvider(r, rt, metrics, session.WithTracerProvider(a.telemetry.TracerProvider()))

	return &stack{
		registry:   r,
		provider:   provider,
		normalizer: compiler.NewNormalizer(a.cfg.Mode),
		metrics:    metrics,
		gatherer:   reg,
		cache:      cache,
	}, nil
}

// pipelineOptions are the options every host pipeline gets.
func (a *app) pipelineOptions(s *stack) []host.Option {
	return []host.Option{host.WithMetrics(s.metrics), host.WithTimeout(a.cfg.CallTimeout)}
}

func (s *stack) Close(ctx context.Context) error {
	return s.cache.Close(ctx)
}
