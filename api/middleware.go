package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const (
	ctxMetricsKey = "gtd.metrics"
	ctxOwnerKey   = "gtd.owner"
)

// Observability opens a span per routed request and logs one
// observability event when the handler returns.
func Observability(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			m, ctx := newRequestMetrics(req.Context(), logger, req.Method, c.Path())
			c.SetRequest(req.WithContext(ctx))
			c.Set(ctxMetricsKey, m)

			err := next(c)
			status := c.Response().Status
			if err != nil {
				m.Fail("handler", err)
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			m.End(status)
			return err
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(ctxMetricsKey).(*requestMetrics)
	return m
}

// RequireOwner authenticates the request and stores the owner id for handlers.
func RequireOwner(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ownerID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			metricsFrom(c).ObserveAuth(time.Since(start))
			if err != nil {
				return respondError(c, "auth", &authError{err: err})
			}
			c.Set(ctxOwnerKey, ownerID)
			return next(c)
		}
	}
}

func ownerFrom(c echo.Context) string {
	owner, _ := c.Get(ctxOwnerKey).(string)
	return owner
}

// GzipRequestMiddleware inflates request bodies sent with Content-Encoding
// gzip. A body that is not valid gzip is rejected before the handler runs.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !gzipEncoded(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}
			zr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return respondError(c, "decode", badRequest("invalid gzip body"))
			}
			req.Body = &inflatedBody{zr: zr, raw: req.Body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func gzipEncoded(header string) bool {
	for enc := range strings.SplitSeq(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

// inflatedBody closes both the gzip reader and the wire body.
type inflatedBody struct {
	zr  *gzip.Reader
	raw io.ReadCloser
}

func (b *inflatedBody) Read(p []byte) (int, error) { return b.zr.Read(p) }

func (b *inflatedBody) Close() error {
	return errors.Join(b.zr.Close(), b.raw.Close())
}
