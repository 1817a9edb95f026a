package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"keyforge/pkg/contracts/domain"
)

const (
	keysTable  = "keys"
	usersTable = "users"
)

// REST talks to a PostgREST-style HTTP API such as Supabase.
// Filters are sent as col=eq.value query parameters and every request
// carries the service key both as apikey and as a bearer token.
type REST struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewREST creates a REST backend. A nil client gets an instrumented
// transport and no client-level timeout; calls are bounded by their context.
func NewREST(baseURL, apiKey string, client *http.Client) *REST {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

// keyRow and userRow carry timestamps as text so the backend may send any
// of the layouts PostgREST emits for timestamp columns
type keyRow struct {
	Key       string `json:"key"`
	CreatedAt string `json:"created_at"`
	Used      bool   `json:"used"`
}

type userRow struct {
	UserID       string `json:"user_id"`
	Cookies      string `json:"cookies"`
	HWID         string `json:"hwid"`
	Key          string `json:"key"`
	RegisteredAt string `json:"registered_at"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *REST) CreateKey(ctx context.Context, rec domain.KeyRecord) error {
	row := keyRow{Key: rec.Key, CreatedAt: formatTimestamp(rec.CreatedAt), Used: rec.Used}
	return s.do(ctx, "create_key", http.MethodPost, keysTable, nil, row, http.StatusCreated, nil)
}

func (s *REST) QueryKeys(ctx context.Context, filter domain.KeyFilter) ([]domain.KeyRecord, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "created_at.asc")
	if filter.Key != "" {
		q.Set("key", "eq."+filter.Key)
	}

	var rows []keyRow
	if err := s.do(ctx, "query_keys", http.MethodGet, keysTable, q, nil, http.StatusOK, &rows); err != nil {
		return nil, err
	}

	recs := make([]domain.KeyRecord, 0, len(rows))
	for _, row := range rows {
		createdAt, err := parseTimestamp(row.CreatedAt)
		if err != nil {
			return nil, &CallError{Op: "query_keys", Kind: FailureDecode, Err: err}
		}
		recs = append(recs, domain.KeyRecord{Key: row.Key, CreatedAt: createdAt, Used: row.Used})
	}
	return recs, nil
}

func (s *REST) PatchKey(ctx context.Context, key string, patch domain.KeyPatch) error {
	q := url.Values{"key": {"eq." + key}}
	return s.do(ctx, "patch_key", http.MethodPatch, keysTable, q, patch, http.StatusNoContent, nil)
}

func (s *REST) DeleteKey(ctx context.Context, key string) error {
	q := url.Values{"key": {"eq." + key}}
	return s.do(ctx, "delete_key", http.MethodDelete, keysTable, q, nil, http.StatusNoContent, nil)
}

func (s *REST) CreateUser(ctx context.Context, rec domain.UserRecord) error {
	row := userRow{
		UserID:       rec.UserID,
		Cookies:      rec.Cookies,
		HWID:         rec.HWID,
		Key:          rec.Key,
		RegisteredAt: formatTimestamp(rec.RegisteredAt),
	}
	return s.do(ctx, "create_user", http.MethodPost, usersTable, nil, row, http.StatusCreated, nil)
}

func (s *REST) QueryUsers(ctx context.Context, filter domain.UserFilter) ([]domain.UserRecord, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "registered_at.asc")
	if filter.UserID != "" {
		q.Set("user_id", "eq."+filter.UserID)
	}
	if filter.HWID != "" {
		q.Set("hwid", "eq."+filter.HWID)
	}

	var rows []userRow
	if err := s.do(ctx, "query_users", http.MethodGet, usersTable, q, nil, http.StatusOK, &rows); err != nil {
		return nil, err
	}

	recs := make([]domain.UserRecord, 0, len(rows))
	for _, row := range rows {
		registeredAt, err := parseTimestamp(row.RegisteredAt)
		if err != nil {
			return nil, &CallError{Op: "query_users", Kind: FailureDecode, Err: err}
		}
		recs = append(recs, domain.UserRecord{
			UserID:       row.UserID,
			Cookies:      row.Cookies,
			HWID:         row.HWID,
			Key:          row.Key,
			RegisteredAt: registeredAt,
		})
	}
	return recs, nil
}

func (s *REST) DeleteUser(ctx context.Context, hwid string) error {
	q := url.Values{"hwid": {"eq." + hwid}}
	return s.do(ctx, "delete_user", http.MethodDelete, usersTable, q, nil, http.StatusNoContent, nil)
}

func (s *REST) Ping(ctx context.Context) error {
	q := url.Values{"select": {"key"}, "limit": {"1"}}
	var rows []json.RawMessage
	return s.do(ctx, "ping", http.MethodGet, keysTable, q, nil, http.StatusOK, &rows)
}

func (s *REST) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// do performs one request and checks for exactly the expected status
func (s *REST) do(ctx context.Context, op, method, table string, query url.Values, payload any, want int, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return &CallError{Op: op, Kind: FailureDecode, Err: err}
		}
		body = bytes.NewReader(data)
	}

	target := s.baseURL + "/" + table
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return &CallError{Op: op, Kind: FailureTransport, Err: err}
	}

	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=minimal")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &CallError{Op: op, Kind: FailureTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &CallError{
			Op:     op,
			Kind:   FailureStatus,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected response %q", strings.TrimSpace(string(snippet))),
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &CallError{Op: op, Kind: FailureDecode, Err: err}
	}
	return nil
}
