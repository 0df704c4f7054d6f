package api

import (
	"net/http"
	"strconv"

	"github.com/anthill-platform/anthill-market/internal/access"
	"github.com/anthill-platform/anthill-market/internal/market"
	"github.com/anthill-platform/anthill-market/internal/metrics"
)

func orderJSON(o *market.Order) map[string]interface{} {
	return map[string]interface{}{
		"order_id":     strconv.FormatInt(o.ID, 10),
		"owner_id":     strconv.FormatInt(o.Owner, 10),
		"give_item":    o.GiveItem,
		"give_payload": o.GivePayload,
		"give_amount":  o.GiveAmount,
		"take_item":    o.TakeItem,
		"take_payload": o.TakePayload,
		"take_amount":  o.TakeAmount,
		"available":    o.Available,
		"payload":      o.Payload,
		"time":         o.CreatedAt.Unix(),
		"deadline":     o.Deadline.Unix(),
	}
}

func ordersJSON(orders []market.Order) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(orders))
	for i := range orders {
		out = append(out, orderJSON(&orders[i]))
	}
	return out
}

func (s *Server) handlePostOrder(w http.ResponseWriter, r *http.Request, token *access.Token) {
	givePayload, err := formPayload(r, "give_payload")
	if err != nil {
		writeError(w, err)
		return
	}
	takePayload, err := formPayload(r, "take_payload")
	if err != nil {
		writeError(w, err)
		return
	}
	payload, err := formPayload(r, "payload")
	if err != nil {
		writeError(w, err)
		return
	}
	giveAmount, err := formInt64(r, "give_amount", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	takeAmount, err := formInt64(r, "take_amount", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	available, err := formInt64(r, "orders_amount", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	deadline, err := formDeadline(r, "deadline")
	if err != nil {
		writeError(w, err)
		return
	}

	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}

	orderID, err := s.orders.PostOrder(r.Context(), market.NewOrder{
		Tenant:      token.Gamespace,
		Owner:       token.Account,
		MarketID:    m.ID,
		GiveItem:    r.FormValue("give_item"),
		GivePayload: givePayload,
		GiveAmount:  giveAmount,
		TakeItem:    r.FormValue("take_item"),
		TakePayload: takePayload,
		TakeAmount:  takeAmount,
		Available:   available,
		Payload:     payload,
		Deadline:    deadline,
	}, true)
	if err != nil {
		writeError(w, err)
		return
	}

	// Matching is best-effort here: the order is already posted, so a
	// matching failure reports it as simply not filled yet.
	fulfilled, err := s.matcher.MatchOrder(r.Context(), token.Gamespace, m.ID, orderID)
	if err != nil {
		s.logger.Error("failed to match posted order",
			"tenant", token.Gamespace, "order", orderID, "error", err)
		fulfilled = false
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":              strconv.FormatInt(orderID, 10),
		"fulfilled_immediately": fulfilled,
	})
}

func (s *Server) parseOrderQuery(r *http.Request, tenant, marketID int64) (*market.OrderQuery, error) {
	q := &market.OrderQuery{Tenant: tenant, MarketID: marketID}

	var err error
	if q.Offset, err = queryInt(r, "offset", 0); err != nil {
		return nil, err
	}
	if q.Limit, err = queryInt(r, "limit", market.MaxQueryLimit); err != nil {
		return nil, err
	}

	if raw := r.URL.Query().Get("owner_id"); raw != "" {
		owner, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, market.NewValidationError("parameter \"owner_id\" must be an integer")
		}
		q.Owner = &owner
	}
	if v := r.URL.Query().Get("give_item"); v != "" {
		q.GiveItem = &v
	}
	if v := r.URL.Query().Get("take_item"); v != "" {
		q.TakeItem = &v
	}
	if raw := r.URL.Query().Get("give_payload"); raw != "" {
		if q.GivePayload, err = market.ParsePayload(raw); err != nil {
			return nil, err
		}
	}
	if raw := r.URL.Query().Get("take_payload"); raw != "" {
		if q.TakePayload, err = market.ParsePayload(raw); err != nil {
			return nil, err
		}
	}

	if q.GiveAmount, err = queryAmountFilter(r, "give_amount", "give_amount_comparison"); err != nil {
		return nil, err
	}
	if q.TakeAmount, err = queryAmountFilter(r, "take_amount", "take_amount_comparison"); err != nil {
		return nil, err
	}

	switch r.URL.Query().Get("sort_by") {
	case "":
		q.Sort = market.SortNone
	case "give_amount":
		q.Sort = market.SortGiveAmount
	case "take_amount":
		q.Sort = market.SortTakeAmount
	default:
		return nil, market.NewValidationError("parameter \"sort_by\" must be give_amount or take_amount")
	}
	q.SortDesc = r.URL.Query().Get("sort_desc") != "false"

	q.WithTotal = r.URL.Query().Get("count") == "true"
	return q, nil
}

func queryInt(r *http.Request, param string, def int) (int, error) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, market.NewValidationError("parameter %q must be an integer", param)
	}
	return v, nil
}

func queryAmountFilter(r *http.Request, amountParam, compParam string) (*market.AmountFilter, error) {
	amount := r.URL.Query().Get(amountParam)
	comp := r.URL.Query().Get(compParam)
	if amount == "" || comp == "" {
		return nil, nil
	}

	value, err := strconv.ParseInt(amount, 10, 64)
	if err != nil {
		return nil, market.NewValidationError("parameter %q must be an integer", amountParam)
	}
	op := market.Comparator(comp)
	if !op.Valid() {
		return nil, market.NewValidationError("parameter %q must be one of <, <=, =, >=, >", compParam)
	}
	return &market.AmountFilter{Op: op, Value: value}, nil
}

func (s *Server) handleQueryOrders(w http.ResponseWriter, r *http.Request, token *access.Token) {
	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}

	q, err := s.parseOrderQuery(r, token.Gamespace, m.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := s.orders.Query(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}

	body := map[string]interface{}{"orders": ordersJSON(page.Orders)}
	if q.WithTotal {
		body["total"] = page.Total
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleMyOrders(w http.ResponseWriter, r *http.Request, token *access.Token) {
	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}

	orders, err := s.orders.ListAccountOrders(r.Context(), token.Gamespace, token.Account, m.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": ordersJSON(orders)})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, token *access.Token) {
	orderID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}

	order, err := s.orders.GetOrder(r.Context(), token.Gamespace, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if order.MarketID != m.ID {
		writeError(w, market.NewConflictError("this order does not belong to this market"))
		return
	}
	writeJSON(w, http.StatusOK, orderJSON(order))
}

// escrowedFields are the order fields that cannot be edited in place:
// the escrow taken at posting time is priced in them.
var escrowedFields = []string{"give_item", "give_payload", "give_amount", "take_amount", "orders_amount"}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request, token *access.Token) {
	orderID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, market.NewValidationError("malformed form body"))
		return
	}

	for _, field := range escrowedFields {
		if _, present := r.PostForm[field]; present {
			writeError(w, market.NewValidationError("field %q cannot be changed; cancel and repost the order", field))
			return
		}
	}

	var patch market.OrderPatch
	if _, present := r.PostForm["take_item"]; present {
		v := r.FormValue("take_item")
		patch.TakeItem = &v
	}
	if _, present := r.PostForm["take_payload"]; present {
		p, err := formPayload(r, "take_payload")
		if err != nil {
			writeError(w, err)
			return
		}
		patch.TakePayload = &p
	}
	if _, present := r.PostForm["payload"]; present {
		p, err := formPayload(r, "payload")
		if err != nil {
			writeError(w, err)
			return
		}
		patch.Payload = &p
	}
	if _, present := r.PostForm["deadline"]; present {
		d, err := formDeadline(r, "deadline")
		if err != nil {
			writeError(w, err)
			return
		}
		patch.Deadline = &d
	}

	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}

	if err := s.orders.UpdateOrder(r.Context(), token.Gamespace, token.Account, m.ID, orderID, patch); err != nil {
		writeError(w, err)
		return
	}

	// The edited demand may match standing offers now.
	fulfilled, err := s.matcher.MatchOrder(r.Context(), token.Gamespace, m.ID, orderID)
	if err != nil {
		s.logger.Error("failed to match updated order",
			"tenant", token.Gamespace, "order", orderID, "error", err)
		fulfilled = false
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":              strconv.FormatInt(orderID, 10),
		"fulfilled_immediately": fulfilled,
	})
}

func (s *Server) handleFulfillOrder(w http.ResponseWriter, r *http.Request, token *access.Token) {
	orderID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := formInt64(r, "amount", 1)
	if err != nil {
		writeError(w, err)
		return
	}

	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}

	result, err := s.matcher.FulfillOrder(r.Context(), token.Gamespace, m.ID, orderID, token.Account, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if result == nil {
		writeErrorMessage(w, http.StatusConflict, "Cannot fulfill the order")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":             strconv.FormatInt(result.OrderID, 10),
		"fulfilled_completely": result.Completed,
	})
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request, token *access.Token) {
	orderID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	m, ok := s.resolveMarket(w, r, token)
	if !ok {
		return
	}

	elevated := token.HasScope(access.ScopeDeleteOrder)
	err = s.orders.DeleteOrder(r.Context(), token.Gamespace, m.ID, orderID, token.Account, elevated, metrics.CancelRequested)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
