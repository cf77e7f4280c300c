// Package mux assembles the API handler from its route groups and
// middleware.
package mux

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanq/internal/api"
	"github.com/ahrav/scanq/internal/api/health"
	"github.com/ahrav/scanq/internal/api/mid"
	"github.com/ahrav/scanq/internal/api/scanning"
	appscanning "github.com/ahrav/scanq/internal/app/scanning"
	"github.com/ahrav/scanq/internal/infra/eventbus/memory"
	"github.com/ahrav/scanq/pkg/common/logger"
	"github.com/ahrav/scanq/pkg/web"
)

// Options represent optional parameters.
type Options struct {
	corsOrigin []string
}

// WithCORS provides configuration options for CORS.
func WithCORS(origins []string) func(opts *Options) {
	return func(opts *Options) {
		opts.corsOrigin = origins
	}
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build       string
	Log         *logger.Logger
	Tracer      trace.Tracer
	Metrics     api.APIMetrics
	Queue       scanning.JobQueue
	Broadcaster *memory.Broadcaster
	// DB and History are nil when persistence is disabled.
	DB      health.Pinger
	History appscanning.JobHistory
	// Origins is filled from WithCORS.
	Origins []string
}

// RouteAdder defines behavior that sets the routes to bind for an instance
// of the service.
type RouteAdder interface {
	Add(app *web.App, cfg Config)
}

// WebAPI constructs a http.Handler with all application routes bound.
func WebAPI(cfg Config, routeAdder RouteAdder, options ...func(opts *Options)) http.Handler {
	logger := func(ctx context.Context, msg string, args ...any) {
		cfg.Log.Info(ctx, msg, args...)
	}

	app := web.NewApp(
		logger,
		cfg.Tracer,
		mid.Otel(cfg.Tracer),
		mid.Logger(cfg.Log),
		mid.Metrics(cfg.Metrics),
		mid.Errors(cfg.Log),
		mid.Panics(),
	)

	var opts Options
	for _, option := range options {
		option(&opts)
	}

	if len(opts.corsOrigin) > 0 {
		app.EnableCORS(opts.corsOrigin)
		cfg.Origins = opts.corsOrigin
	}

	routeAdder.Add(app, cfg)

	return app
}
