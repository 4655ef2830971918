package security

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const CorrelationIDHeader = "X-Correlation-ID"

// Inbound IDs longer than this are replaced rather than truncated, so
// a hostile header cannot bloat every log line and audit event for the
// request.
const maxCorrelationIDLen = 64

type correlationIDKey struct{}

// CorrelationID propagates or assigns a request correlation ID so audit
// events and logs for one money movement can be stitched together.
// Inbound values that are oversized or contain non-printable bytes are
// discarded and a fresh ID assigned.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationIDHeader)
		if !validCorrelationID(cid) {
			cid = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), correlationIDKey{}, cid)
		w.Header().Set(CorrelationIDHeader, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validCorrelationID(cid string) bool {
	if cid == "" || len(cid) > maxCorrelationIDLen {
		return false
	}
	for i := 0; i < len(cid); i++ {
		if cid[i] <= 0x20 || cid[i] >= 0x7f {
			return false
		}
	}
	return true
}

func CorrelationIDFromContext(ctx context.Context) string {
	if v := ctx.Value(correlationIDKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
