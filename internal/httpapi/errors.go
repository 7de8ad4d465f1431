package httpapi

import (
	"net/http"

	"github.com/agent-iam/iam/internal/errs"
	"github.com/rs/zerolog"
)

// WriteError translates a tagged error into its §7 HTTP status and JSON
// envelope, logging opaque kinds with full context at the boundary —
// grounded on original_source/src/errors.rs's IntoResponse impl and its
// paired tracing::error! call.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	kind := errs.KindOf(err)
	status := errs.StatusFor(kind)
	message := errs.PublicMessage(err)

	if kind.Opaque() {
		log.Error().Err(err).Str("kind", string(kind)).Msg("request failed")
	}

	RespondError(w, status, string(kind), message)
}
