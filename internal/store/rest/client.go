// Package rest is the HTTP client for the remote ledger store. Every call
// runs through a circuit breaker so a flapping backend degrades to the
// cached snapshot instead of hammering the store.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"debtbook/internal/core"
	"debtbook/internal/store"
)

// Client talks to the remote ledger store over REST.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
}

var _ store.LedgerStore = (*Client)(nil)

func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger-store",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		cb:         cb,
	}
}

// recordPayload mirrors the store's wire format. Amount stays a raw JSON
// token: the store has been observed returning strings and garbage values
// there, and a malformed amount must not fail the whole page.
type recordPayload struct {
	ID          string          `json:"id"`
	GroupID     string          `json:"groupId"`
	FromUserID  string          `json:"fromUserId"`
	ToUserID    string          `json:"toUserId"`
	Description string          `json:"description"`
	Amount      json.RawMessage `json:"amount"`
	CreatedAt   string          `json:"createdAt"`
}

type userPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SecondName string `json:"secondName,omitempty"`
	Email      string `json:"email,omitempty"`
	AvatarRef  string `json:"avatarRef,omitempty"`
}

func (p recordPayload) toRecord() core.Record {
	return core.Record{
		ID:          p.ID,
		GroupID:     p.GroupID,
		FromUserID:  p.FromUserID,
		ToUserID:    p.ToUserID,
		Description: p.Description,
		Amount:      rawAmountToken(p.Amount),
		CreatedAt:   p.CreatedAt,
	}
}

// rawAmountToken flattens a JSON amount value to its textual form:
// 12.34 -> "12.34", "12.34" -> "12.34", anything else -> raw text that the
// record parser will reject.
func rawAmountToken(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		var unquoted string
		if err := json.Unmarshal(raw, &unquoted); err == nil {
			return unquoted
		}
	}
	return s
}

// ListTransactions fetches one page of transaction records.
func (c *Client) ListTransactions(ctx context.Context, page store.Page) ([]core.Record, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(page.Offset))
	q.Set("limit", strconv.Itoa(page.Limit))

	var payload struct {
		Transactions []recordPayload `json:"transactions"`
	}
	if err := c.get(ctx, "/transactions?"+q.Encode(), &payload); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	records := make([]core.Record, 0, len(payload.Transactions))
	for _, p := range payload.Transactions {
		records = append(records, p.toRecord())
	}
	return records, nil
}

// ListUsers batch-resolves user profiles by id.
func (c *Client) ListUsers(ctx context.Context, ids []string) ([]core.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))

	var payload struct {
		Users []userPayload `json:"users"`
	}
	if err := c.get(ctx, "/users?"+q.Encode(), &payload); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	users := make([]core.User, 0, len(payload.Users))
	for _, p := range payload.Users {
		users = append(users, core.User{
			ID:         p.ID,
			Name:       p.Name,
			SecondName: p.SecondName,
			Email:      p.Email,
			AvatarRef:  p.AvatarRef,
		})
	}
	return users, nil
}

// CreateTransaction submits one transaction record.
func (c *Client) CreateTransaction(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	body := recordPayload{
		ID:          tx.ID,
		GroupID:     tx.GroupID,
		FromUserID:  tx.FromUserID,
		ToUserID:    tx.ToUserID,
		Description: tx.Description,
		Amount:      json.RawMessage(core.FormatCents(tx.Amount.Cents)),
		CreatedAt:   tx.CreatedAt.UTC().Format(time.RFC3339),
	}
	if err := c.send(ctx, http.MethodPost, "/transactions", body); err != nil {
		return fmt.Errorf("create transaction %s: %w", tx.ID, err)
	}
	return nil
}

// DeleteTransaction removes one transaction record by id.
func (c *Client) DeleteTransaction(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("delete transaction: empty id")
	}
	if err := c.send(ctx, http.MethodDelete, "/transactions/"+url.PathEscape(id), nil); err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("store returned %s", resp.Status)
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	return err
}

func (c *Client) send(ctx context.Context, method, path string, body any) error {
	_, err := c.cb.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			reader = bytes.NewReader(buf)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		c.setHeaders(req)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("store returned %s", resp.Status)
		}
		return nil, nil
	})
	return err
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
