// Package mid contains the middleware applied to every API handler.
package mid

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanq/pkg/common/otel"
	"github.com/ahrav/scanq/pkg/web"
)

// Otel stores the tracer in the context so handlers can open child spans.
func Otel(tracer trace.Tracer) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			ctx = otel.InjectTracing(ctx, tracer)

			return next(ctx, r)
		}

		return h
	}

	return m
}
