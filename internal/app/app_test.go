package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyforge/internal/config"
	"keyforge/internal/infrastructure"
	"keyforge/internal/keygen"
	"keyforge/internal/shared/testutil"
	"keyforge/internal/store"
	api "keyforge/pkg/contracts/api/v1"
	"keyforge/pkg/contracts/domain"
)

const testAdminKey = "Adm1n-Key"

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Security.AdminKey = testAdminKey
	cfg.Store.Backend = config.BackendMemory
	cfg.Telemetry.EnableMetrics = true
	return cfg
}

func newTestApp(t *testing.T, mutate ...func(*config.Config)) *Application {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	logger, _ := testutil.NewTestLogger(t)
	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	a, err := New(cfg, logger, providers, store.NewMemory())
	require.NoError(t, err)
	return a
}

func do(t *testing.T, a *Application, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "198.51.100.20:41000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)
	return rec
}

func issueKey(t *testing.T, a *Application) string {
	t.Helper()
	rec := do(t, a, http.MethodGet, "/api/get_key", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.GetKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Key
}

func TestKeyLifecycleOverHTTP(t *testing.T) {
	a := newTestApp(t)

	key := issueKey(t, a)
	assert.True(t, keygen.Validate(key))

	rec := do(t, a, http.MethodGet, "/api/verify_key?key="+key, "")
	assert.Equal(t, "valid", rec.Body.String())

	rec = do(t, a, http.MethodGet, "/api/verify_key?key="+key, "")
	assert.Equal(t, "used", rec.Body.String())

	rec = do(t, a, http.MethodGet, "/api/verify_key?key="+testutil.OtherSampleKey, "")
	assert.Equal(t, "invalid", rec.Body.String())

	rec = do(t, a, http.MethodGet, "/api/verify_key?key=garbage", "")
	assert.Equal(t, "invalid", rec.Body.String())
}

func TestSaveUserIsIdempotentOverHTTP(t *testing.T) {
	a := newTestApp(t)

	first := do(t, a, http.MethodPost, "/api/save_user", `{"hwid":"`+testutil.SampleHWID+`","cookies":"sid=1"}`)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	var saved api.SaveUserResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &saved))
	assert.Equal(t, domain.RegistrationSaved, saved.Status)

	other := issueKey(t, a)
	second := do(t, a, http.MethodPost, "/api/save_user", `{"hwid":"`+testutil.SampleHWID+`","key":"`+other+`"}`)
	require.Equal(t, http.StatusOK, second.Code)
	var existing api.SaveUserResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &existing))
	assert.Equal(t, domain.RegistrationExists, existing.Status)
	assert.Equal(t, saved.Key, existing.Key)

	bad := do(t, a, http.MethodPost, "/api/save_user", `{"hwid":"nothex"}`)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	users, err := a.Store.QueryUsers(context.Background(), domain.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestRouteRateLimits(t *testing.T) {
	a := newTestApp(t)

	for i := 0; i < a.Config.Limits.Issue; i++ {
		require.Equal(t, http.StatusOK, do(t, a, http.MethodGet, "/api/get_key", "").Code, "request %d", i+1)
	}

	rec := do(t, a, http.MethodGet, "/api/get_key", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Other route groups keep their own windows
	assert.Equal(t, http.StatusOK, do(t, a, http.MethodGet, "/api/verify_key?key=x", "").Code)
}

func TestRouteRateLimits_IgnoreForwardingHeadersFromUntrustedPeers(t *testing.T) {
	a := newTestApp(t)

	for i := 0; i < a.Config.Limits.Issue; i++ {
		rec := do(t, a, http.MethodGet, "/api/get_key", "", "X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	for _, header := range []string{"X-Forwarded-For", "X-Real-IP", "True-Client-IP"} {
		rec := do(t, a, http.MethodGet, "/api/get_key", "", header, "203.0.113.200")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, header)
	}

	save := do(t, a, http.MethodPost, "/api/save_user", `{"hwid":"`+testutil.SampleHWID+`"}`,
		"X-Forwarded-For", "203.0.113.50")
	require.Equal(t, http.StatusOK, save.Code, save.Body.String())

	snap, err := a.Engine.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, "198.51.100.20", snap.Users[0].IP)
}

func TestRouteRateLimits_TrustedProxy(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Server.TrustedProxies = []string{"198.51.100.0/24"}
	})

	for i := 0; i < a.Config.Limits.Issue; i++ {
		require.Equal(t, http.StatusOK,
			do(t, a, http.MethodGet, "/api/get_key", "", "X-Forwarded-For", "203.0.113.1").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests,
		do(t, a, http.MethodGet, "/api/get_key", "", "X-Forwarded-For", "203.0.113.1").Code)

	// A different client behind the same proxy has its own window
	assert.Equal(t, http.StatusOK,
		do(t, a, http.MethodGet, "/api/get_key", "", "X-Forwarded-For", "203.0.113.2").Code)

	save := do(t, a, http.MethodPost, "/api/save_user", `{"hwid":"`+testutil.SampleHWID+`"}`,
		"X-Forwarded-For", "203.0.113.50")
	require.Equal(t, http.StatusOK, save.Code, save.Body.String())

	snap, err := a.Engine.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, "203.0.113.50", snap.Users[0].IP)
}

func TestNew_RejectsMalformedTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TrustedProxies = []string{"not-a-cidr/99"}

	logger, _ := testutil.NewTestLogger(t)
	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	_, err = New(cfg, logger, providers, store.NewMemory())
	assert.Error(t, err)
}

func TestAdminRoutes(t *testing.T) {
	a := newTestApp(t)
	issueKey(t, a)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		header     []string
		wantStatus int
		wantBody   string
	}{
		{"dashboard without token", http.MethodGet, "/user/admin", "", nil, http.StatusForbidden, "access denied"},
		{"dashboard wrong case", http.MethodGet, "/user/admin", "", []string{"X-Admin-Key", strings.ToLower(testAdminKey)}, http.StatusForbidden, "access denied"},
		{"dashboard header", http.MethodGet, "/user/admin", "", []string{"X-Admin-Key", testAdminKey}, http.StatusOK, "keyforge"},
		{"dashboard query", http.MethodGet, "/user/admin?d=" + testAdminKey, "", nil, http.StatusOK, "Download as XLSX"},
		{"export", http.MethodGet, "/user/admin/export.xlsx?d=" + testAdminKey, "", nil, http.StatusOK, ""},
		{"clean without token", http.MethodPost, "/api/clean_old_keys", `{"days":0}`, nil, http.StatusForbidden, "access denied"},
		{"delete key without token", http.MethodPost, "/api/delete_key", `{"key":"` + testutil.SampleKey + `"}`, nil, http.StatusForbidden, "access denied"},
		{"delete key", http.MethodPost, "/api/delete_key", `{"key":"` + testutil.SampleKey + `"}`, []string{"X-Admin-Key", testAdminKey}, http.StatusOK, "Key deleted"},
		{"delete user", http.MethodPost, "/api/delete_user", `{"hwid":"` + testutil.SampleHWID + `"}`, []string{"X-Admin-Key", testAdminKey}, http.StatusOK, "User deleted"},
		{"clean", http.MethodPost, "/api/clean_old_keys", `{"days":0}`, []string{"X-Admin-Key", testAdminKey}, http.StatusOK, `"deleted":1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, a, tt.method, tt.target, tt.body, tt.header...)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestApp(t)

	rec := do(t, a, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"backend":"memory"`)

	rec = do(t, a, http.MethodGet, "/api/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	issueKey(t, a)

	rec = do(t, a, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "keyforge_http_requests_total")
	assert.Contains(t, rec.Body.String(), "keyforge_keys_issued_total")
}

func TestUnknownRoute(t *testing.T) {
	a := newTestApp(t)

	assert.Equal(t, http.StatusNotFound, do(t, a, http.MethodGet, "/api/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, a, http.MethodPost, "/api/get_key", "").Code)
}

func TestNew_SchedulesCleanup(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Cleanup.Enabled = true
		c.Cleanup.Schedule = "0 3 * * *"
	})
	require.NotNil(t, a.Scheduler)
	assert.Len(t, a.Scheduler.Tasks(), 1)

	_, err := New(func() *config.Config {
		c := testConfig()
		c.Cleanup.Enabled = true
		c.Cleanup.Schedule = "whenever"
		return c
	}(), a.Logger, a.OTelProviders, store.NewMemory())
	assert.Error(t, err)
}

func TestNew_RejectsShortKeys(t *testing.T) {
	a := newTestApp(t)
	cfg := testConfig()
	cfg.Keys.Length = 8

	_, err := New(cfg, a.Logger, a.OTelProviders, store.NewMemory())
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Cleanup.Enabled = true
	})
	a.Server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx, cancel))
	time.Sleep(20 * time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	assert.NoError(t, a.Stop(stopCtx))
}
