package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/admin-rbac/internal/config"
	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type APIResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 8080, RequestTimeout: 5 * time.Second},
		Storage: config.StorageConfig{Driver: "memory"},
		JWT:     config.JWTConfig{Secret: "test-secret", Issuer: "admin-rbac", ExpiryHours: 1},
		Cache:   config.CacheConfig{Driver: "memory", TTL: time.Minute},
		Audit:   config.AuditConfig{WriteTimeout: time.Second},
		Metrics: config.MetricsConfig{Namespace: "test"},
	}
}

type testServer struct {
	app    *App
	server *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	a, err := New(ctx, testConfig(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Roles.Seed(ctx)
	require.NoError(t, err)

	r, err := a.Router()
	require.NoError(t, err)

	srv := httptest.NewServer(r.Engine())
	t.Cleanup(srv.Close)
	return &testServer{app: a, server: srv}
}

// bootstrap creates a user the way the operator CLI does and returns a
// bearer token for it.
func (s *testServer) bootstrap(t *testing.T, email, roleName string) (uuid.UUID, string) {
	t.Helper()
	user, err := s.app.Admin.CreateUser(context.Background(), model.SystemActor("cli"), model.CreateUserRequest{
		Name:     email,
		Email:    email,
		Password: "correct-horse",
		Role:     roleName,
	})
	require.NoError(t, err)
	token, err := s.app.Tokens.Generate(user.ID, user.Email)
	require.NoError(t, err)
	return user.ID, token
}

func (s *testServer) makeRequest(t *testing.T, method, path, token, body string) (*http.Response, APIResponse) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.server.URL+"/api/v1"+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out APIResponse
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestPublicRoutes(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.makeRequest(t, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	resp, _ = s.makeRequest(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.makeRequest(t, http.MethodGet, "/admin/users", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.makeRequest(t, http.MethodGet, "/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/api/v1/metrics", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "test_http_requests_total")
	assert.Contains(t, string(body), "test_audit_records_total")
}

func TestAdministrationFlow(t *testing.T) {
	s := newTestServer(t)
	_, rootToken := s.bootstrap(t, "root@example.com", permission.RoleSuperAdmin)
	adminID, adminToken := s.bootstrap(t, "admin@example.com", permission.RoleHospitalAdmin)

	// A hospital admin can list but not create users.
	resp, _ := s.makeRequest(t, http.MethodGet, "/admin/users", adminToken, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := s.makeRequest(t, http.MethodPost, "/admin/users", adminToken,
		`{"name":"Pat","email":"pat@example.com","password":"long-enough"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body.Message, "permission denied")

	resp, body = s.makeRequest(t, http.MethodPost, "/admin/users", rootToken,
		`{"name":"Pat","email":"pat@example.com","password":"long-enough"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var patient model.User
	require.NoError(t, json.Unmarshal(body.Data, &patient))

	// Granting audit access to the patient takes effect on the next request,
	// and revoking it does too.
	patientToken, err := s.app.Tokens.Generate(patient.ID, patient.Email)
	require.NoError(t, err)
	resp, _ = s.makeRequest(t, http.MethodGet, "/audit/logs", patientToken, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	grant := `{"user_id":"` + patient.ID.String() + `","role_name":"hospital_admin"}`
	resp, _ = s.makeRequest(t, http.MethodPost, "/admin/roles/assign", rootToken, grant)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = s.makeRequest(t, http.MethodGet, "/audit/logs", patientToken, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.makeRequest(t, http.MethodPost, "/admin/roles/revoke", rootToken, grant)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.makeRequest(t, http.MethodGet, "/audit/logs", patientToken, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The hospital admin's refused create is on record.
	resp, body = s.makeRequest(t, http.MethodGet, "/audit/logs/user/"+adminID.String(), rootToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page model.AuditPage
	require.NoError(t, json.Unmarshal(body.Data, &page))
	require.Len(t, page.Records, 1)
	assert.Equal(t, model.ActionCreateUser, page.Records[0].Action)
	assert.Equal(t, model.OutcomeDenied, page.Records[0].Outcome)

	// The patient's two refused audit reads are on record as route denials.
	resp, body = s.makeRequest(t, http.MethodGet, "/audit/logs?outcome=denied&actor_id="+patient.ID.String(), rootToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body.Data, &page))
	assert.Len(t, page.Records, 2)
	for _, rec := range page.Records {
		assert.Equal(t, model.ResourceRoute, rec.ResourceType)
	}
}

func TestRoleAdministrationFlow(t *testing.T) {
	s := newTestServer(t)
	_, rootToken := s.bootstrap(t, "root@example.com", permission.RoleSuperAdmin)
	userID, userToken := s.bootstrap(t, "pat@example.com", permission.RolePatient)

	resp, body := s.makeRequest(t, http.MethodPost, "/rbac/roles", rootToken,
		`{"name":"auditor","description":"reads the audit trail","permissions":["audit.read"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var auditor model.Role
	require.NoError(t, json.Unmarshal(body.Data, &auditor))

	resp, _ = s.makeRequest(t, http.MethodPost, "/admin/roles/assign", rootToken,
		`{"user_id":"`+userID.String()+`","role_name":"auditor"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = s.makeRequest(t, http.MethodPost, "/rbac/check", userToken, `{"permissions":["audit.read"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body.Data), `"granted":true`)

	// Narrowing the role applies to holders with a warm cache.
	resp, _ = s.makeRequest(t, http.MethodPut, "/rbac/roles/"+auditor.ID.String()+"/permissions", rootToken,
		`{"permissions":["user.read"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.makeRequest(t, http.MethodPost, "/rbac/check", userToken, `{"permissions":["audit.read"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body.Data), `"granted":false`)

	resp, body = s.makeRequest(t, http.MethodGet, "/rbac/me/permissions", userToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body.Data), `"user.read"`)
	assert.NotContains(t, string(body.Data), `"audit.read"`)
}
