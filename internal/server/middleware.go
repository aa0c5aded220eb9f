package server

import (
	"context"
	"net/http"
	"time"

	cserrors "github.com/YuminosukeSato/cropsense/pkg/errors"
	"github.com/YuminosukeSato/cropsense/pkg/log"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

type contextKey string

const requestIDKey contextKey = "request_id"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// RequestID returns the id assigned to the request, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// statusWriter records the status sent and whether headers went out.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// requestLogger assigns a request id, taken from the X-Request-ID header
// when present, and logs every request with its status and latency.
func requestLogger(logger log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			fields := []any{
				log.RequestIDKey, id,
				"http.method", r.Method,
				"http.path", r.URL.Path,
				log.StatusKey, sw.status,
				log.DurationMsKey, time.Since(start).Milliseconds(),
			}
			switch {
			case sw.status >= 500:
				logger.Error("Request failed", fields...)
			case sw.status >= 400:
				logger.Warn("Request rejected", fields...)
			default:
				logger.Info("Request served", fields...)
			}
		})
	}
}

// recoverer turns a panicking handler into a 500 response.
func recoverer(logger log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw, ok := w.(*statusWriter)
			if !ok {
				sw = &statusWriter{ResponseWriter: w, status: http.StatusOK}
			}
			err := cserrors.SafeExecute("http "+r.Method+" "+r.URL.Path, func() error {
				next.ServeHTTP(sw, r)
				return nil
			})
			if err == nil {
				return
			}
			fields := []any{err, log.RequestIDKey, RequestID(r.Context())}
			var pe *cserrors.PanicError
			if cserrors.As(err, &pe) {
				fields = append(fields, log.StacktraceKey, pe.StackTrace)
			}
			logger.Error("Handler panicked", fields...)
			// 既にレスポンスを書き始めていたら 500 は送れない
			if sw.wroteHeader {
				return
			}
			writeJSON(sw, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		})
	}
}
