package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/anthill-platform/anthill-market/internal/market"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps engine error kinds onto HTTP statuses. Storage
// failures hide their cause from the client.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch market.KindOf(err) {
	case market.KindValidation:
		status = http.StatusBadRequest
	case market.KindNotFound:
		status = http.StatusNotFound
	case market.KindInsufficient, market.KindForbidden, market.KindConflict:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}

	message := "internal error"
	var e *market.Error
	if errors.As(err, &e) && e.Kind != market.KindStorage {
		message = e.Message
	}
	writeErrorMessage(w, status, message)
}
