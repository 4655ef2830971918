package security

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the wire shape of every failed request. Error is a
// stable machine code; Field and Detail carry whatever the typed error
// already knows about the rejection, so clients never have to parse
// prose out of Error() strings.
type ErrorResponse struct {
	Error         string `json:"error"`
	Field         string `json:"field,omitempty"`
	Detail        string `json:"detail,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func WriteJSONError(w http.ResponseWriter, r *http.Request, status int, code string) {
	WriteJSONErrorDetail(w, r, status, code, "", "")
}

func WriteJSONErrorDetail(w http.ResponseWriter, r *http.Request, status int, code, field, detail string) {
	cid := CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(CorrelationIDHeader, cid)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:         code,
		Field:         field,
		Detail:        detail,
		CorrelationID: cid,
	})
}
