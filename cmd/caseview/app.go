package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/caseview/internal/config"
	"github.com/pitabwire/caseview/internal/definition"
	"github.com/pitabwire/caseview/internal/invoker"
	"github.com/pitabwire/caseview/internal/listview"
	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/internal/openapi"
	"github.com/pitabwire/caseview/model"
)

// app holds the parts every command shares: the OpenAPI index, the
// definition registry and the upstream invokers.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	index    *openapi.Index
	registry *definition.Registry
	invokers *invoker.Registry
	handlers *invoker.HandlerRegistry
}

// bootstrap loads specs and definitions and builds the invoker registry.
// metrics may be nil.
func bootstrap(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*app, error) {
	// 1. Index the upstream OpenAPI specs.
	index := openapi.NewIndex()
	if err := index.Load(openapi.SourcesFromConfig(cfg)); err != nil {
		return nil, fmt.Errorf("OpenAPI index load failed: %w", err)
	}

	// 2. Load and validate definitions.
	defs, err := definition.LoadAndValidate(cfg.Definitions.Directories, index)
	if err != nil {
		return nil, err
	}
	registry := definition.NewRegistry(defs)

	// 3. Register in-process handlers and HTTP upstreams.
	handlers := invoker.NewHandlerRegistry()
	for name, hc := range cfg.Handlers {
		h, err := invoker.NewFixtureHandler(name, hc)
		if err != nil {
			return nil, fmt.Errorf("handler %s: %w", name, err)
		}
		handlers.Register(h)
		logger.Info("search handler registered", zap.String("handler", name), zap.Int("records", h.Len()))
	}

	httpOpts := []invoker.HTTPOption{invoker.WithHTTPLogger(logger)}
	if metrics != nil {
		httpOpts = append(httpOpts, invoker.WithMetrics(metrics))
		metrics.SetDefinitionsLoaded(float64(registry.PageCount()))
		for _, svc := range index.Services() {
			metrics.SetOpenAPIOperationsIndexed(svc, float64(len(index.AllOperationIDs(svc))))
		}
	}

	invokers := invoker.NewRegistry()
	invokers.Register(invoker.NewHandlerInvoker(handlers))
	invokers.Register(invoker.NewHTTPSearchInvoker(index, cfg.Services, httpOpts...))

	return &app{
		cfg:      cfg,
		logger:   logger,
		index:    index,
		registry: registry,
		invokers: invokers,
		handlers: handlers,
	}, nil
}

// sources binds each page to its data source through the invoker registry.
func (a *app) sources(page model.PageDefinition) listview.Source {
	return invoker.NewSource(a.invokers, page)
}
