package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/birdwatch/internal/tracing"
	"github.com/xraph/birdwatch/observer"
)

// logRequest writes one api-request event to the observer per request,
// capturing method, path, raw query, and decoded body, before the
// handler runs. The whole request is wrapped in an OpenTelemetry span.
func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.Start(r.Context(), "birdwatch.api.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		var spanErr error
		defer func() { tracing.End(span, spanErr) }()
		r = r.WithContext(ctx)

		var decodedBody any
		if r.Body != nil {
			raw, err := io.ReadAll(r.Body)
			if err == nil {
				r.Body = io.NopCloser(bytes.NewReader(raw))
				if len(raw) > 0 {
					_ = json.Unmarshal(raw, &decodedBody)
				}
			}
		}

		body := map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"query":  r.URL.RawQuery,
		}
		if decodedBody != nil {
			body["body"] = decodedBody
		}

		if _, err := s.obs.Log(ctx, observer.ActionAPIRequest, observer.SeverityLog, body); err != nil {
			spanErr = err
			writeError(sw, http.StatusInternalServerError, err.Error())
			return
		}

		next.ServeHTTP(sw, r)
		if sw.status >= http.StatusInternalServerError {
			spanErr = fmt.Errorf("request failed with status %d", sw.status)
		}
	})
}

// statusWriter captures the response status code for tracing, without
// otherwise altering http.ResponseWriter behavior.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
