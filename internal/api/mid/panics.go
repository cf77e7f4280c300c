package mid

import (
	"context"
	"net/http"
	"runtime/debug"

	"github.com/ahrav/scanq/internal/api/errs"
	"github.com/ahrav/scanq/pkg/web"
)

// Panics recovers from a panicking handler and turns it into an error so the
// Errors middleware can respond.
func Panics() web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) (resp web.Encoder) {
			defer func() {
				if rec := recover(); rec != nil {
					trace := debug.Stack()
					resp = errs.Newf(errs.Internal, "PANIC [%v] TRACE[%s]", rec, string(trace))
				}
			}()

			return next(ctx, r)
		}

		return h
	}

	return m
}
