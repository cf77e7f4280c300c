// Package routes lists the route groups served by the API.
package routes

import (
	"github.com/ahrav/scanq/internal/api/health"
	"github.com/ahrav/scanq/internal/api/mux"
	"github.com/ahrav/scanq/internal/api/scanning"
	"github.com/ahrav/scanq/pkg/web"
)

// Routes constructs an add value which provides the implementation of
// RouteAdder for specifying what routes to bind to this instance.
func Routes() add {
	return add{}
}

type add struct{}

// Add implements the RouteAdder interface.
func (add) Add(app *web.App, cfg mux.Config) {
	health.Routes(app, health.Config{
		Build: cfg.Build,
		Log:   cfg.Log,
		DB:    cfg.DB,
	})

	scanning.Routes(app, scanning.Config{
		Log:         cfg.Log,
		Queue:       cfg.Queue,
		Broadcaster: cfg.Broadcaster,
		Metrics:     cfg.Metrics,
		History:     cfg.History,
		Origins:     cfg.Origins,
	})
}
