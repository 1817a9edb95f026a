package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyforge/internal/shared/testutil"
	"keyforge/pkg/contracts/domain"
)

const testAPIKey = "service-role-key"

// fakePostgREST is a tiny PostgREST imitation over two tables
type fakePostgREST struct {
	t      *testing.T
	mu     sync.Mutex
	tables map[string][]map[string]any
	pk     map[string]string
}

func newFakePostgREST(t *testing.T) *httptest.Server {
	f := &fakePostgREST{
		t:      t,
		tables: map[string][]map[string]any{keysTable: nil, usersTable: nil},
		pk:     map[string]string{keysTable: "key", usersTable: "user_id"},
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakePostgREST) matches(row map[string]any, r *http.Request) bool {
	for col, vals := range r.URL.Query() {
		if col == "select" || col == "order" || col == "limit" {
			continue
		}
		want := strings.TrimPrefix(vals[0], "eq.")
		if row[col] != want {
			return false
		}
	}
	return true
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != testAPIKey || r.Header.Get("Authorization") != "Bearer "+testAPIKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	table := strings.TrimPrefix(r.URL.Path, "/")
	if _, ok := f.tables[table]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPost:
		var row map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&row))
		for _, existing := range f.tables[table] {
			if existing[f.pk[table]] == row[f.pk[table]] {
				w.WriteHeader(http.StatusConflict)
				return
			}
		}
		f.tables[table] = append(f.tables[table], row)
		w.WriteHeader(http.StatusCreated)

	case http.MethodGet:
		out := []map[string]any{}
		for _, row := range f.tables[table] {
			if f.matches(row, r) {
				out = append(out, row)
			}
		}
		if order := r.URL.Query().Get("order"); order != "" {
			col := strings.TrimSuffix(order, ".asc")
			sort.SliceStable(out, func(i, j int) bool {
				return out[i][col].(string) < out[j][col].(string)
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)

	case http.MethodPatch:
		var patch map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&patch))
		for _, row := range f.tables[table] {
			if f.matches(row, r) {
				for k, v := range patch {
					row[k] = v
				}
			}
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		kept := f.tables[table][:0]
		for _, row := range f.tables[table] {
			if !f.matches(row, r) {
				kept = append(kept, row)
			}
		}
		f.tables[table] = kept
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// restWithDuplicates maps the fake's 409 to ErrDuplicate so the shared
// contract can run unchanged against the REST backend
type restWithDuplicates struct {
	*REST
}

func (r restWithDuplicates) CreateKey(ctx context.Context, rec domain.KeyRecord) error {
	return conflictAsDuplicate(r.REST.CreateKey(ctx, rec))
}

func (r restWithDuplicates) CreateUser(ctx context.Context, rec domain.UserRecord) error {
	return conflictAsDuplicate(r.REST.CreateUser(ctx, rec))
}

func conflictAsDuplicate(err error) error {
	if ce, ok := err.(*CallError); ok && ce.Status == http.StatusConflict {
		return &CallError{Op: ce.Op, Kind: ce.Kind, Status: ce.Status, Err: ErrDuplicate}
	}
	return err
}

func TestREST_Contract(t *testing.T) {
	srv := newFakePostgREST(t)
	runStoreContract(t, restWithDuplicates{NewREST(srv.URL+"/", testAPIKey, srv.Client())})
}

func TestREST_StatusMismatch(t *testing.T) {
	tests := []struct {
		name   string
		status int
		call   func(*REST) error
	}{
		{"create expects 201", http.StatusOK, func(s *REST) error {
			return s.CreateKey(context.Background(), domain.KeyRecord{Key: testutil.SampleKey})
		}},
		{"patch expects 204", http.StatusOK, func(s *REST) error {
			return s.PatchKey(context.Background(), testutil.SampleKey, domain.KeyPatch{Used: true})
		}},
		{"delete expects 204", http.StatusOK, func(s *REST) error {
			return s.DeleteKey(context.Background(), testutil.SampleKey)
		}},
		{"query expects 200", http.StatusNoContent, func(s *REST) error {
			_, err := s.QueryKeys(context.Background(), domain.KeyFilter{})
			return err
		}},
		{"server error", http.StatusInternalServerError, func(s *REST) error {
			_, err := s.QueryUsers(context.Background(), domain.UserFilter{})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := tt.call(NewREST(srv.URL, testAPIKey, srv.Client()))
			require.Error(t, err)
			assert.Equal(t, FailureStatus, Classify(err))

			var callErr *CallError
			require.ErrorAs(t, err, &callErr)
			assert.Equal(t, tt.status, callErr.Status)
		})
	}
}

func TestREST_DecodeFailure(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"bad timestamp", `[{"key":"KF_1357-9ACE-FHKM-R135","created_at":"yesterday","used":false}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewREST(srv.URL, testAPIKey, srv.Client()).QueryKeys(context.Background(), domain.KeyFilter{})
			require.Error(t, err)
			assert.Equal(t, FailureDecode, Classify(err))
		})
	}
}

func TestREST_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewREST(url, testAPIKey, nil).DeleteUser(context.Background(), "abcde")
	require.Error(t, err)
	assert.Equal(t, FailureTransport, Classify(err))
}

func TestREST_RequestShape(t *testing.T) {
	var got *http.Request
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	err := NewREST(srv.URL, testAPIKey, srv.Client()).CreateKey(context.Background(),
		domain.KeyRecord{Key: testutil.SampleKey, CreatedAt: created})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/keys", got.URL.Path)
	assert.Equal(t, testAPIKey, got.Header.Get("apikey"))
	assert.Equal(t, "Bearer "+testAPIKey, got.Header.Get("Authorization"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "2024-01-02T02:04:05Z", body["created_at"])
	assert.Equal(t, false, body["used"])
}

func TestREST_FilterEncoding(t *testing.T) {
	var rawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := NewREST(srv.URL, testAPIKey, srv.Client()).QueryUsers(context.Background(),
		domain.UserFilter{UserID: "MTAuMC4wLjFfYWJjZGU="})
	require.NoError(t, err)
	assert.Contains(t, rawQuery, "user_id=eq.MTAuMC4wLjFfYWJjZGU%3D")
	assert.NotContains(t, rawQuery, "hwid=")
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 0, 0, 500000000, time.UTC)
	for _, in := range []string{
		"2024-05-01T12:00:00.5Z",
		"2024-05-01T12:00:00.5+00:00",
		"2024-05-01T14:00:00.5+02:00",
		"2024-05-01T12:00:00.5",
		"2024-05-01 12:00:00.5+00",
		"2024-05-01 12:00:00.5",
	} {
		got, err := parseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}
}
