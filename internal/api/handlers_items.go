package api

import (
	"net/http"

	"github.com/anthill-platform/anthill-market/internal/access"
	"github.com/anthill-platform/anthill-market/internal/market"
)

// resolveMarket turns the {name} path segment into market metadata. A
// false return means the error response has been written.
func (s *Server) resolveMarket(w http.ResponseWriter, r *http.Request, token *access.Token) (*market.Market, bool) {
	m, err := s.registry.FindByName(r.Context(), token.Gamespace, r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return m, true
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request, token *access.Token) {
	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settings": m.Settings,
	})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request, token *access.Token) {
	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}

	balances, err := s.ledger.ListBalances(r.Context(), token.Gamespace, token.Account, m.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]interface{}, 0, len(balances))
	for _, b := range balances {
		items = append(items, map[string]interface{}{
			"name":    b.Name,
			"payload": b.Payload,
			"amount":  b.Amount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleUpdateItems(w http.ResponseWriter, r *http.Request, token *access.Token) {
	deltas, err := parseItemUpdates(r.FormValue("items"))
	if err != nil {
		writeError(w, err)
		return
	}

	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}

	if err := s.ledger.BatchUpdate(r.Context(), token.Gamespace, token.Account, m.ID, deltas); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request, token *access.Token) {
	payload, err := formPayload(r, "payload")
	if err != nil {
		writeError(w, err)
		return
	}

	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}

	amount, err := s.ledger.GetBalance(r.Context(), token.Gamespace, token.Account, m.ID, r.PathValue("item"), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"amount": amount})
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request, token *access.Token) {
	payload, err := formPayload(r, "payload")
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := formInt64(r, "amount", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if amount == 0 {
		writeError(w, market.NewValidationError("field \"amount\" is required"))
		return
	}

	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}

	err = s.ledger.BatchUpdate(r.Context(), token.Gamespace, token.Account, m.ID, []market.ItemDelta{{
		Name:    r.PathValue("item"),
		Payload: payload,
		Delta:   amount,
	}})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
