package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/artist-platform/internal/domain"
)

type ErrorResponse struct {
	Error string      `json:"error"`
	Kind  domain.Kind `json:"kind"`
}

func respondWithError(w http.ResponseWriter, code int, kind domain.Kind, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message, Kind: kind})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("handler: failed to marshal JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to marshal JSON response","kind":"internal"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("handler: failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindInsufficientInventory, domain.KindConflict:
		return http.StatusConflict
	case domain.KindInactiveOrClosed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError writes err with the status its kind maps to.
// Internal errors are logged and not shown to the client.
func respondWithServiceError(w http.ResponseWriter, err error, operation string) {
	kind := domain.KindOf(err)
	code := mapErrorToStatusCode(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Str("operation", operation).Msg("handler: request failed")
		respondWithError(w, code, kind, "failed to "+operation)
		return
	}
	log.Warn().Err(err).Str("operation", operation).Stringer("kind", kind).Msg("handler: request rejected")
	respondWithError(w, code, kind, err.Error())
}
