package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDAcceptsWellFormedHeader(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "cid-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "cid-123", seen)
	assert.Equal(t, "cid-123", w.Header().Get(CorrelationIDHeader))
}

func TestCorrelationIDReplacesBadHeader(t *testing.T) {
	tests := []struct {
		name string
		cid  string
	}{
		{"empty", ""},
		{"oversized", strings.Repeat("a", maxCorrelationIDLen+1)},
		{"control bytes", "cid\nwith-newline"},
		{"non ascii", "cid-\xc3\xa9"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = CorrelationIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.cid != "" {
				req.Header.Set(CorrelationIDHeader, tc.cid)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			require.NotEmpty(t, seen)
			assert.NotEqual(t, tc.cid, seen, "bad inbound ID must be replaced")
			assert.Equal(t, seen, w.Header().Get(CorrelationIDHeader))
		})
	}
}
