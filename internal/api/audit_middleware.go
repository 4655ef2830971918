package api

import (
	"net/http"
	"time"

	"github.com/moneyflow/engine/internal/security"
	"github.com/moneyflow/engine/pkg/audit"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// AuditMiddleware appends one trail event per request. Server errors on
// money-movement routes are worth a second look, so they get medium
// severity.
func AuditMiddleware(rec Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			start := time.Now()
			next.ServeHTTP(sw, r)
			dur := time.Since(start)

			severity := audit.SeverityLow
			if sw.status >= http.StatusInternalServerError {
				severity = audit.SeverityMedium
			}

			cid := security.CorrelationIDFromContext(r.Context())
			rec.Record(r.Context(), "api", "http.request", severity, map[string]any{
				"cid":         cid,
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      sw.status,
				"duration_ms": dur.Milliseconds(),
			})
		})
	}
}
