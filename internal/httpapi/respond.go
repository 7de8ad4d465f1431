// Package httpapi is the external HTTP surface named "out of scope" in the
// distilled spec's §1 ("consumed as interfaces"); SPEC_FULL.md §2 still
// provides one concrete realization so the module runs end to end, grounded
// on wisbric-nightowl/internal/httpserver's chi + JSON-envelope conventions
// and on auth/httpapi (formerly http)'s writeJSON/writeError helper shape.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}

// ErrorResponse is the standard JSON error envelope §6's route table uses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	Respond(w, status, ErrorResponse{Error: code, Message: message})
}

// Decode reads a JSON request body into dst, bounding its size, grounded on
// wisbric-nightowl/internal/httpserver/validate.go's Decode.
func Decode(r *http.Request, dst any) error {
	const maxBody = 1 << 20 // 1 MiB
	body := http.MaxBytesReader(nil, r.Body, maxBody)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
