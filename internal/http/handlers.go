package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"debtbook/internal/core"
	"debtbook/internal/ledger"
	"debtbook/internal/services"
)

// Wire views. Amounts travel as decimal strings; the raw cent values ride
// along for clients that prefer integers.
type (
	transactionView struct {
		ID           string `json:"id"`
		GroupID      string `json:"groupId"`
		From         string `json:"from"`
		To           string `json:"to"`
		Description  string `json:"description"`
		Amount       string `json:"amount"`
		AmountCents  int64  `json:"amountCents"`
		CreatedAt    string `json:"createdAt"`
		IsSettlement bool   `json:"isSettlement"`
	}

	ledgerView struct {
		CounterpartyID   string            `json:"counterpartyId"`
		CounterpartyName string            `json:"counterpartyName"`
		NetBalance       string            `json:"netBalance"`
		NetCents         int64             `json:"netCents"`
		Transactions     []transactionView `json:"transactions"`
	}

	statisticsView struct {
		Incoming      string `json:"incoming"`
		IncomingCents int64  `json:"incomingCents"`
		Outgoing      string `json:"outgoing"`
		OutgoingCents int64  `json:"outgoingCents"`
		ActiveCount   int    `json:"activeCount"`
		Net           string `json:"net"`
		NetCents      int64  `json:"netCents"`
	}

	snapshotView struct {
		UserID     string         `json:"userId"`
		ComputedAt string         `json:"computedAt"`
		Ledgers    []ledgerView   `json:"ledgers"`
		Statistics statisticsView `json:"statistics"`
	}

	dateGroupView struct {
		Date         string            `json:"date"`
		IsSettlement bool              `json:"isSettlement"`
		Total        string            `json:"total"`
		TotalCents   int64             `json:"totalCents"`
		Transactions []transactionView `json:"transactions"`
	}

	lineItemRequest struct {
		Description string `json:"description"`
		Amount      string `json:"amount"`
	}
)

func toTransactionView(tx core.Transaction) transactionView {
	return transactionView{
		ID:           tx.ID,
		GroupID:      tx.GroupID,
		From:         tx.FromUserID,
		To:           tx.ToUserID,
		Description:  tx.Description,
		Amount:       core.FormatCents(tx.Amount.Cents),
		AmountCents:  tx.Amount.Cents,
		CreatedAt:    tx.CreatedAt.UTC().Format(time.RFC3339),
		IsSettlement: tx.IsSettlement(),
	}
}

func toSnapshotView(snap services.Snapshot) snapshotView {
	view := snapshotView{
		UserID:     snap.UserID,
		ComputedAt: snap.ComputedAt.UTC().Format(time.RFC3339),
		Ledgers:    []ledgerView{},
		Statistics: statisticsView{
			Incoming:      core.FormatCents(snap.Statistics.IncomingCents),
			IncomingCents: snap.Statistics.IncomingCents,
			Outgoing:      core.FormatCents(snap.Statistics.OutgoingCents),
			OutgoingCents: snap.Statistics.OutgoingCents,
			ActiveCount:   snap.Statistics.ActiveCount,
			Net:           core.FormatCents(snap.Statistics.NetCents),
			NetCents:      snap.Statistics.NetCents,
		},
	}
	for _, id := range ledger.CounterpartyIDs(snap.Ledgers) {
		l := snap.Ledgers[id]
		lv := ledgerView{
			CounterpartyID:   l.CounterpartyID,
			CounterpartyName: l.CounterpartyName,
			NetBalance:       core.FormatCents(l.NetCents),
			NetCents:         l.NetCents,
			Transactions:     []transactionView{},
		}
		for _, tx := range l.Transactions {
			lv.Transactions = append(lv.Transactions, toTransactionView(tx))
		}
		view.Ledgers = append(view.Ledgers, lv)
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service failures onto status codes. Validation
// problems are the client's fault; everything else is the backend's.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "validation failed",
			"reasons": verr.Reasons,
		})
		return
	}
	if errors.Is(err, core.ErrInvalidAmount) || errors.Is(err, core.ErrMissingParty) || errors.Is(err, core.ErrSameParty) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if pf, ok := services.IsPartialFailure(err); ok {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":     "partial batch failure",
			"submitted": pf.Submitted,
			"failedIds": pf.FailedIDs,
		})
		return
	}
	slog.ErrorContext(r.Context(), "Request failed", "error", err, "url", r.URL.Path)
	writeError(w, http.StatusBadGateway, err.Error())
}

// currentUser pulls the acting user from the query string.
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing user parameter")
		return "", false
	}
	return user, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// isZeroAmount reports whether the string is a well-formed decimal whose
// value is exactly zero, in any spelling ("0", "0.00", "0,0").
func isZeroAmount(s string) bool {
	s = strings.ReplaceAll(s, ",", ".")
	seenDigit := false
	dots := 0
	for _, r := range s {
		switch {
		case r == '.':
			dots++
			if dots > 1 {
				return false
			}
		case r >= '0' && r <= '9':
			seenDigit = true
			if r != '0' {
				return false
			}
		default:
			return false
		}
	}
	return seenDigit
}

func parseLineItems(items []lineItemRequest) ([]ledger.LineItem, []string) {
	var out []ledger.LineItem
	var problems []string
	for _, item := range items {
		amountStr := strings.TrimSpace(item.Amount)
		if amountStr == "" || isZeroAmount(amountStr) {
			// Zero items are dropped, matching what submission does anyway.
			continue
		}
		cents, err := core.ParseDecimalToCents(amountStr)
		if err != nil {
			problems = append(problems, "invalid amount "+item.Amount)
			continue
		}
		out = append(out, ledger.LineItem{
			Description: strings.TrimSpace(item.Description),
			Amount:      core.Money{Cents: cents},
		})
	}
	return out, problems
}

func (s *Server) handleListLedgers(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	snap, err := s.ledgers.CurrentSnapshot(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotView(snap))
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	snap, err := s.ledgers.CurrentSnapshot(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotView(snap).Statistics)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	snap, err := s.ledgers.Refresh(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotView(snap))
}

func (s *Server) handleDateGroups(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	counterpartyID := r.PathValue("counterpartyID")
	groups, err := s.ledgers.DateGroups(r.Context(), user, counterpartyID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	views := []dateGroupView{}
	for _, g := range groups {
		gv := dateGroupView{
			Date:         g.Date.Format("2006-01-02"),
			IsSettlement: g.IsSettlement,
			Total:        core.FormatCents(g.TotalCents),
			TotalCents:   g.TotalCents,
			Transactions: []transactionView{},
		}
		for _, tx := range g.Transactions {
			gv.Transactions = append(gv.Transactions, toTransactionView(tx))
		}
		views = append(views, gv)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateDebts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DebtorID   string            `json:"debtorId"`
		CreditorID string            `json:"creditorId"`
		Items      []lineItemRequest `json:"items"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	items, problems := parseLineItems(req.Items)
	if len(problems) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "validation failed",
			"reasons": problems,
		})
		return
	}

	txs, err := s.ledgers.CreateDebts(r.Context(), req.DebtorID, req.CreditorID, items)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, toTransactionView(tx))
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transactions": views})
}

func (s *Server) handleSubmitSplit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string                       `json:"userId"`
		ReceiverID     string                       `json:"receiverId"`
		ParticipantIDs []string                     `json:"participantIds"`
		SharedItems    []lineItemRequest            `json:"sharedItems"`
		PersonalItems  map[string][]lineItemRequest `json:"personalItems"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	shared, problems := parseLineItems(req.SharedItems)
	personal := make(map[string][]ledger.LineItem, len(req.PersonalItems))
	for userID, items := range req.PersonalItems {
		parsed, moreProblems := parseLineItems(items)
		problems = append(problems, moreProblems...)
		if len(parsed) > 0 {
			personal[userID] = parsed
		}
	}
	if len(problems) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "validation failed",
			"reasons": problems,
		})
		return
	}

	txs, err := s.ledgers.SubmitSplit(r.Context(), req.UserID, ledger.SplitInput{
		SharedItems:    shared,
		PersonalItems:  personal,
		ParticipantIDs: req.ParticipantIDs,
		ReceiverID:     req.ReceiverID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, toTransactionView(tx))
	}
	perHead := ledger.SharedPerParticipant(shared, len(req.ParticipantIDs))
	writeJSON(w, http.StatusCreated, map[string]any{
		"transactions":         views,
		"sharedPerParticipant": core.FormatCents(perHead),
	})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string `json:"userId"`
		CounterpartyID string `json:"counterpartyId"`
		Amount         string `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	cents, err := core.ParseDecimalToCents(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid amount "+req.Amount)
		return
	}

	tx, err := s.ledgers.Settle(r.Context(), req.UserID, req.CounterpartyID, core.Money{Cents: cents})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionView(tx))
}

func (s *Server) handleDeleteTransactions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string   `json:"userId"`
		TransactionIDs []string `json:"transactionIds"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.TransactionIDs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no transaction ids given")
		return
	}

	if err := s.ledgers.DeleteTransactions(r.Context(), req.UserID, req.TransactionIDs); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": len(req.TransactionIDs)})
}
