package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/component-state/pkg/collector"
	"github.com/txn2/component-state/pkg/componentstate"
	"github.com/txn2/component-state/pkg/health"
	cshttp "github.com/txn2/component-state/pkg/http"
	"github.com/txn2/component-state/pkg/platform"
)

const (
	srvTestUser    = "user-1"
	srvTestOther   = "user-2"
	srvTestMessage = "msg-1"
)

type testEnv struct {
	handler    http.Handler
	manager    *componentstate.Manager
	collectors *collector.Registry
}

func newTestEnv(t *testing.T, enforce bool) *testEnv {
	t.Helper()
	reg := collector.NewRegistry(collector.Config{BufferSize: 1})
	m := componentstate.NewManager(reg, componentstate.Config{})
	t.Cleanup(func() {
		_ = m.Close(context.Background())
		_ = reg.Close()
	})

	checker := health.NewChecker()
	checker.SetReady()
	checker.SetActiveCounter(m.ActiveCount)

	return &testEnv{
		handler: NewHandler(Options{
			Components:       m,
			Collectors:       reg,
			Health:           checker,
			EnforceOwnership: enforce,
		}),
		manager:    m,
		collectors: reg,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) create(t *testing.T, messageID, userID string) componentstate.ComponentState {
	t.Helper()
	body := `{"message":{"id":"` + messageID + `","channel_id":"ch-1","guild_id":"g-1"},` +
		`"correlation":{"correlation_id":"corr-1","user_id":"` + userID + `","username":"alice"}}`
	w := e.do(t, http.MethodPost, "/api/v1/components", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var st componentstate.ComponentState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func TestCreateComponent(t *testing.T) {
	env := newTestEnv(t, false)
	st := env.create(t, srvTestMessage, srvTestUser)

	assert.NotEmpty(t, st.ID)
	assert.Equal(t, "corr-1", st.CorrelationID)
	assert.Equal(t, srvTestUser, st.UserID)
	assert.Equal(t, "g-1", st.GuildID)
	assert.Equal(t, "ch-1", st.ChannelID)
	assert.Equal(t, componentstate.StateActive, st.State)
	assert.Equal(t, 0, st.InteractionCount)
	assert.Equal(t, 1, env.collectors.Active())
}

func TestCreateComponent_IdentityFromHeaders(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/components",
		`{"message":{"id":"m"},"ttl":"2m"}`,
		map[string]string{cshttp.HeaderUserID: srvTestUser, cshttp.HeaderCorrelationID: "hdr-corr"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var st componentstate.ComponentState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, srvTestUser, st.UserID)
	assert.Equal(t, "hdr-corr", st.CorrelationID)
	assert.WithinDuration(t, st.CreatedAt.Add(2*time.Minute), st.ExpiresAt, time.Second)
}

func TestCreateComponent_Errors(t *testing.T) {
	env := newTestEnv(t, false)
	env.create(t, srvTestMessage, srvTestUser)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"unknown field", `{"bogus":1}`, http.StatusBadRequest},
		{"bad ttl", `{"message":{"id":"m2"},"correlation":{"correlation_id":"c","user_id":"u"},"ttl":"soon"}`, http.StatusBadRequest},
		{"negative ttl", `{"message":{"id":"m2"},"correlation":{"correlation_id":"c","user_id":"u"},"ttl":"-1m"}`, http.StatusBadRequest},
		{"missing user", `{"message":{"id":"m2"},"correlation":{"correlation_id":"c"}}`, http.StatusBadRequest},
		{"missing message", `{"message":{"id":""},"correlation":{"correlation_id":"c","user_id":"u"}}`, http.StatusBadRequest},
		{"collector exists", `{"message":{"id":"` + srvTestMessage + `"},"correlation":{"correlation_id":"c","user_id":"u"}}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/components", tt.body, nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
	assert.Equal(t, 1, env.manager.ActiveCount(), "failed creates leave no state")
}

func TestGetComponent(t *testing.T) {
	env := newTestEnv(t, false)
	st := env.create(t, srvTestMessage, srvTestUser)

	w := env.do(t, http.MethodGet, "/api/v1/components/"+st.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got componentstate.ComponentState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, st.ID, got.ID)

	w = env.do(t, http.MethodGet, "/api/v1/components/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateComponent_Merge(t *testing.T) {
	env := newTestEnv(t, false)
	st := env.create(t, srvTestMessage, srvTestUser)
	path := "/api/v1/components/" + st.ID

	w := env.do(t, http.MethodPatch, path, `{"data":{"query":"dune","page":1},"correlation_id":"c2"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPatch, path, `{"data":{"page":2}}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got componentstate.ComponentState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 2, got.InteractionCount)
	assert.Equal(t, []string{"query", "page"}, got.Data.Keys())
	page, _ := got.Data.Get("page")
	n, _ := page.AsNumber()
	assert.InDelta(t, 2.0, n, 0)

	assert.Equal(t, int64(2), env.manager.Metrics().TotalInteractions)
}

func TestUpdateComponent_Errors(t *testing.T) {
	env := newTestEnv(t, false)
	st := env.create(t, srvTestMessage, srvTestUser)
	path := "/api/v1/components/" + st.ID

	w := env.do(t, http.MethodPatch, "/api/v1/components/missing", `{"data":{"a":"b"}}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPatch, path, `{"data":{"a":null}}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, path, `{"data":{"a":"b"}}`, map[string]string{cshttp.HeaderUserID: srvTestOther})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPatch, path, `{"data":{"a":"b"}}`, map[string]string{cshttp.HeaderUserID: srvTestUser})
	assert.Equal(t, http.StatusOK, w.Code)

	got, _ := env.manager.Get(st.ID)
	assert.Equal(t, 1, got.InteractionCount, "rejected updates leave the component unchanged")
}

func TestUpdateComponent_EnforceOwnership(t *testing.T) {
	env := newTestEnv(t, true)
	st := env.create(t, srvTestMessage, srvTestUser)

	w := env.do(t, http.MethodPatch, "/api/v1/components/"+st.ID, `{"data":{"a":"b"}}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPatch, "/api/v1/components/"+st.ID, `{"data":{"a":"b"}}`,
		map[string]string{cshttp.HeaderUserID: srvTestUser})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListUserComponents(t *testing.T) {
	env := newTestEnv(t, false)
	env.create(t, "m1", srvTestUser)
	env.create(t, "m2", srvTestUser)
	env.create(t, "m3", srvTestOther)

	w := env.do(t, http.MethodGet, "/api/v1/users/"+srvTestUser+"/components", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)

	w = env.do(t, http.MethodGet, "/api/v1/users/nobody/components", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[],"total":0}`, w.Body.String())
}

func TestDispatchEvent(t *testing.T) {
	env := newTestEnv(t, false)
	st := env.create(t, srvTestMessage, srvTestUser)

	path := "/api/v1/messages/" + srvTestMessage + "/events"
	eventsPath := "/api/v1/components/" + st.ID + "/events"

	w := env.do(t, http.MethodPost, path, `{"custom_id":"pick","values":["2"]}`,
		map[string]string{cshttp.HeaderUserID: srvTestUser})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, eventsPath, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp eventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.True(t, resp.Open)
	assert.Equal(t, srvTestMessage, resp.Data[0].MessageID)
	assert.Equal(t, "pick", resp.Data[0].CustomID)
	assert.Equal(t, srvTestUser, resp.Data[0].UserID)
	assert.Equal(t, []string{"2"}, resp.Data[0].Values)

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, path, `{"custom_id":"a"}`, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodPost, path, `{"custom_id":"b"}`, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/v1/messages/none/events", `{}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, path, `nope`, nil).Code)

	// Reading frees the buffer for the next dispatch.
	w = env.do(t, http.MethodGet, eventsPath, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "a", resp.Data[0].CustomID)
	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, path, `{"custom_id":"b"}`, nil).Code)
}

func TestPollEvents_LongPoll(t *testing.T) {
	env := newTestEnv(t, false)
	st := env.create(t, srvTestMessage, srvTestUser)
	eventsPath := "/api/v1/components/" + st.ID + "/events"

	w := env.do(t, http.MethodGet, eventsPath+"?wait=10ms", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[],"total":0,"open":true}`, w.Body.String())

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = env.collectors.Dispatch(srvTestMessage, collector.Event{CustomID: "late"})
	}()
	w = env.do(t, http.MethodGet, eventsPath+"?wait=5s", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp eventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "late", resp.Data[0].CustomID)
}

func TestPollEvents_Errors(t *testing.T) {
	env := newTestEnv(t, false)
	st := env.create(t, srvTestMessage, srvTestUser)
	eventsPath := "/api/v1/components/" + st.ID + "/events"

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/components/missing/events", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, eventsPath+"?wait=soon", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, eventsPath+"?wait=-1s", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, eventsPath+"?limit=0", "", nil).Code)
}

func TestHealthRoutes(t *testing.T) {
	env := newTestEnv(t, false)
	env.create(t, srvTestMessage, srvTestUser)

	w := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready","active_components":1}`, w.Body.String())
}

func TestCorrelationHeaderEchoed(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, http.MethodGet, "/api/v1/components/x", "", map[string]string{cshttp.HeaderCorrelationID: "abc"})
	assert.Equal(t, "abc", w.Header().Get(cshttp.HeaderCorrelationID))
}

func TestComponentErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &componentstate.NotFoundError{ID: "x"}, http.StatusNotFound},
		{"not owner", componentstate.ErrNotOwner, http.StatusForbidden},
		{"invalid context", componentstate.ErrInvalidContext, http.StatusBadRequest},
		{"collector exists", &componentstate.ExternalResourceError{Op: "register", Err: collector.ErrCollectorExists}, http.StatusConflict},
		{"registry closed", &componentstate.ExternalResourceError{Op: "register", Err: collector.ErrClosed}, http.StatusServiceUnavailable},
		{"platform failure", &componentstate.ExternalResourceError{Op: "register", Err: errors.New("rate limited")}, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, componentErrorStatus(tt.err))
		})
	}
}

func TestNew_FromPlatform(t *testing.T) {
	cfg := platform.DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Admin.APIKeys = []platform.AdminKeyConfig{{Name: "ops", Key: "secret"}}

	p, srv, err := NewWithPlatformConfig(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Stop(ctx) }()

	assert.Equal(t, cfg.Server.Address, srv.Addr)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "component_state_active_components")

	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", http.NoBody)
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total_components_created":0,"total_interactions":0,"active_components":0}`, w.Body.String())
}

func TestNew_NoAdminWithoutKeys(t *testing.T) {
	p, srv, err := NewWithPlatformConfig(platform.DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, p)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", http.NoBody))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewWithConfig_MissingFile(t *testing.T) {
	_, _, err := NewWithConfig("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestVersion(t *testing.T) {
	if Version != "dev" {
		t.Errorf("Version = %q, want dev", Version)
	}
}
