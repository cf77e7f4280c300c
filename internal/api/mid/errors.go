package mid

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanq/internal/api/errs"
	"github.com/ahrav/scanq/pkg/common/logger"
	"github.com/ahrav/scanq/pkg/web"
)

// Errors logs handler errors and makes sure every error leaving a handler is
// an *errs.Error so clients always see the same shape. Internal messages are
// not leaked.
func Errors(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			resp := next(ctx, r)
			err, isError := resp.(error)
			if !isError {
				return resp
			}

			span := trace.SpanFromContext(ctx)
			span.RecordError(err)

			appErr := errs.GetError(err)
			if appErr == nil {
				appErr = errs.Newf(errs.Internal, "Internal Server Error")
			}

			if appErr.HTTPStatus() >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, err.Error())
				log.Error(ctx, "handled error during request", "err", err, "path", r.URL.Path)
				if appErr.Code == errs.Internal {
					appErr = errs.Newf(errs.Internal, "Internal Server Error")
				}
			} else {
				log.Info(ctx, "request rejected", "code", appErr.Code.String(), "msg", appErr.Message, "path", r.URL.Path)
			}

			return appErr
		}

		return h
	}

	return m
}
