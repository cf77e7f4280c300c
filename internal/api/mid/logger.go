package mid

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ahrav/scanq/pkg/common/logger"
	"github.com/ahrav/scanq/pkg/web"
)

// Logger writes a line when a request starts and when it completes.
func Logger(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			now := time.Now()

			path := r.URL.Path
			if r.URL.RawQuery != "" {
				path = fmt.Sprintf("%s?%s", path, r.URL.RawQuery)
			}

			log.Info(ctx, "request started", "method", r.Method, "path", path, "remoteaddr", r.RemoteAddr)

			resp := next(ctx, r)

			log.Info(ctx, "request completed", "method", r.Method, "path", path, "remoteaddr", r.RemoteAddr,
				"statuscode", statusOf(resp), "since", time.Since(now).String())

			return resp
		}

		return h
	}

	return m
}

type httpStatus interface {
	HTTPStatus() int
}

// statusOf mirrors the status web.Respond will write for resp.
func statusOf(resp web.Encoder) int {
	switch v := resp.(type) {
	case httpStatus:
		return v.HTTPStatus()
	case error:
		return http.StatusInternalServerError
	case nil:
		return http.StatusNoContent
	default:
		return http.StatusOK
	}
}
