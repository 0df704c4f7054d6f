package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/anthill-platform/anthill-market/internal/market"
)

func formValue(r *http.Request, field, def string) string {
	v := r.FormValue(field)
	if v == "" {
		return def
	}
	return v
}

func formInt64(r *http.Request, field string, def int64) (int64, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, market.NewValidationError("field %q must be an integer", field)
	}
	return v, nil
}

func formPayload(r *http.Request, field string) (market.Payload, error) {
	p, err := market.ParsePayload(r.FormValue(field))
	if err != nil {
		return nil, market.NewValidationError("field %q holds a malformed payload", field)
	}
	return p, nil
}

// formDeadline reads a unix-seconds timestamp.
func formDeadline(r *http.Request, field string) (time.Time, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return time.Time{}, market.NewValidationError("field %q is required", field)
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, market.NewValidationError("field %q must be a unix timestamp", field)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// itemUpdate is one entry of the batch item update document.
type itemUpdate struct {
	Name    string         `json:"name"`
	Amount  int64          `json:"amount"`
	Payload market.Payload `json:"payload"`
}

func parseItemUpdates(raw string) ([]market.ItemDelta, error) {
	if raw == "" {
		return nil, market.NewValidationError("field \"items\" is required")
	}

	var updates []itemUpdate
	if err := json.Unmarshal([]byte(raw), &updates); err != nil {
		return nil, market.NewValidationError("field \"items\" holds malformed JSON")
	}

	deltas := make([]market.ItemDelta, 0, len(updates))
	for _, u := range updates {
		deltas = append(deltas, market.ItemDelta{
			Name:    u.Name,
			Payload: u.Payload,
			Delta:   u.Amount,
		})
	}
	return deltas, nil
}

func pathID(r *http.Request, field string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(field), 10, 64)
	if err != nil || id <= 0 {
		return 0, market.NewValidationError("malformed %s", field)
	}
	return id, nil
}
