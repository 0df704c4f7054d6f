package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/anthill-platform/anthill-market/internal/access"
	"github.com/anthill-platform/anthill-market/internal/market"
)

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request, token *access.Token) {
	givePayload, err := market.ParsePayload(r.URL.Query().Get("give_payload"))
	if err != nil {
		writeError(w, err)
		return
	}
	takePayload, err := market.ParsePayload(r.URL.Query().Get("take_payload"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", market.MaxAggregateLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}

	aggregates, err := s.journal.ListAggregated(r.Context(), token.Gamespace, m.ID,
		r.URL.Query().Get("give_item"), givePayload,
		r.URL.Query().Get("take_item"), takePayload, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	history := make([]map[string]interface{}, 0, len(aggregates))
	for _, a := range aggregates {
		history = append(history, map[string]interface{}{
			"date":        a.Date.Format("2006-01-02"),
			"give_amount": a.AvgGive,
			"take_amount": a.AvgTake,
			"amount":      a.TotalUnits,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request, token *access.Token) {
	markets, err := s.registry.List(r.Context(), token.Gamespace)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(markets))
	for _, m := range markets {
		out = append(out, map[string]interface{}{
			"name":     m.Name,
			"settings": m.Settings,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": out})
}

func (s *Server) handleCreateMarket(w http.ResponseWriter, r *http.Request, token *access.Token) {
	settings, err := formPayload(r, "settings")
	if err != nil {
		writeError(w, err)
		return
	}

	id, err := s.registry.Create(r.Context(), token.Gamespace, r.FormValue("name"), settings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"market_id": strconv.FormatInt(id, 10),
	})
}

func (s *Server) handleUpdateMarketSettings(w http.ResponseWriter, r *http.Request, token *access.Token) {
	settings, err := formPayload(r, "settings")
	if err != nil {
		writeError(w, err)
		return
	}

	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}

	if err := s.registry.UpdateSettings(r.Context(), token.Gamespace, m.ID, settings); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteMarket(w http.ResponseWriter, r *http.Request, token *access.Token) {
	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}

	if err := s.registry.Delete(r.Context(), token.Gamespace, m.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAccountsDeleted(w http.ResponseWriter, r *http.Request, token *access.Token) {
	raw := r.FormValue("accounts")
	if raw == "" {
		writeError(w, market.NewValidationError("field \"accounts\" is required"))
		return
	}

	var accounts []int64
	if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
		writeError(w, market.NewValidationError("field \"accounts\" must be a JSON array of account ids"))
		return
	}
	tenantOnly := r.FormValue("gamespace_only") != "false"

	if err := s.orders.PurgeAccounts(r.Context(), token.Gamespace, accounts, tenantOnly); err != nil {
		writeError(w, err)
		return
	}
	if err := s.ledger.PurgeAccounts(r.Context(), token.Gamespace, accounts, tenantOnly); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request, token *access.Token) {
	if s.hub == nil {
		writeErrorMessage(w, http.StatusNotFound, "websocket events are disabled")
		return
	}

	account := strconv.FormatInt(token.Account, 10)
	if err := s.hub.Serve(w, r, token.Gamespace, account); err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
