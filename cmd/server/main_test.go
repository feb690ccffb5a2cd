package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/GoCodeAlone/tenancy/config"
	"github.com/GoCodeAlone/tenancy/database"
	"github.com/GoCodeAlone/tenancy/setup"
	"github.com/GoCodeAlone/tenancy/tenant"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Relational.Driver = "sqlite"
	cfg.Relational.DSN = filepath.Join(t.TempDir(), "main.db")
	cfg.Document.URI = database.MemoryURI
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Server.APIRequestsPerMinute = 1000

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := setup.New(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	_, err = app.Migrate(ctx)
	require.NoError(t, err)

	router, err := newRouter(app, logger)
	require.NoError(t, err)
	t.Cleanup(router.Close)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, method, url string, body any, header http.Header) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestServerEndToEnd(t *testing.T) {
	srv := newTestServer(t)

	status, _ := call(t, "GET", srv.URL+"/healthz", nil, nil)
	require.Equal(t, http.StatusOK, status)

	status, body := call(t, "POST", srv.URL+"/api/tenants/create",
		map[string]any{"name": "Acme", "subdomain": "acme", "plan_type": "basic"}, nil)
	require.Equal(t, http.StatusCreated, status, body)
	acmeID := body["data"].(map[string]any)["tenant"].(map[string]any)["id"]

	hdr := http.Header{}
	hdr.Set(tenant.TenantHeaderName, "acme")
	status, body = call(t, "POST", srv.URL+"/auth/register",
		map[string]any{"name": "John", "email": "john@acme.com", "password": "secret"}, hdr)
	require.Equal(t, http.StatusCreated, status, body)
	data := body["data"].(map[string]any)
	token := data["token"].(string)
	assert.Equal(t, acmeID, data["user"].(map[string]any)["tenant_id"])

	auth := http.Header{}
	auth.Set("Authorization", "Bearer "+token)
	status, body = call(t, "GET", srv.URL+"/auth/me", nil, auth)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "john@acme.com", body["data"].(map[string]any)["email"])

	status, body = call(t, "GET", srv.URL+"/api/tenants/stats", nil, hdr)
	require.Equal(t, http.StatusOK, status, body)
	users := body["data"].(map[string]any)["users"].(map[string]any)
	assert.Equal(t, float64(1), users["total"])
	assert.Equal(t, float64(25), users["limit"])
}

func TestApplyReload(t *testing.T) {
	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.Log.Level = "debug"
	applyReload(&level, cfg, logger)
	assert.Equal(t, slog.LevelDebug, level.Level())

	cfg.Log.Level = "nonsense"
	applyReload(&level, cfg, logger)
	assert.Equal(t, slog.LevelDebug, level.Level(), "invalid levels are ignored")
}
