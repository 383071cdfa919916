package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/ebay-mcp/internal/api/handlers"
	"github.com/donaldgifford/ebay-mcp/internal/ebay"
	"github.com/donaldgifford/ebay-mcp/pkg/logger"
)

const userTokenBody = `{"access_token":"user-access","expires_in":7200,` +
	`"refresh_token":"user-refresh","refresh_token_expires_in":47304000,"token_type":"User Access Token"}`

func newConsentFlow(t *testing.T, status int, body string) *ebay.ConsentFlow {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body)) //nolint:errcheck // test handler
	}))
	t.Cleanup(srv.Close)

	oauth := ebay.NewOAuthManager("app-id", "cert-id", ebay.WithTokenURL(srv.URL))
	return ebay.NewConsentFlow(oauth, "app-id", "My-RuName",
		ebay.WithAuthorizeURL("https://auth.example.test/oauth2/authorize"),
	)
}

func callbackQuery(state, code string) string {
	return url.Values{"state": {state}, "code": {code}}.Encode()
}

func TestConsentRoutes_RoundTrip(t *testing.T) {
	t.Parallel()

	flow := newConsentFlow(t, http.StatusOK, userTokenBody)
	_, api := humatest.New(t)
	handlers.RegisterConsentRoutes(api, handlers.NewConsentHandler(flow, logger.Discard()))

	resp := api.Get("/api/v1/consent")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"consented":false`)

	resp = api.Post("/api/v1/consent", map[string]any{})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var start ebay.ConsentStart
	decodeJSON(t, resp.Body.Bytes(), &start)
	assert.Contains(t, start.AuthorizationURL, "https://auth.example.test/oauth2/authorize?")
	require.NotEmpty(t, start.State)

	resp = api.Get("/api/v1/consent/sessions/" + start.State)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), string(ebay.FlowAwaitingAuthorization))

	resp = api.Post("/api/v1/consent/complete", map[string]any{
		"callback_url": "https://localhost/callback?" + callbackQuery(start.State, "v^1.1#code"),
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), `"expires_at"`)
	assert.NotContains(t, resp.Body.String(), "user-access")

	resp = api.Get("/api/v1/consent")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"consented":true`)

	resp = api.Post("/api/v1/consent/complete", map[string]any{
		"callback_url": callbackQuery(start.State, "again"),
	})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = api.Delete("/api/v1/consent")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"revoked"}`, resp.Body.String())

	resp = api.Get("/api/v1/consent")
	assert.Contains(t, resp.Body.String(), `"consented":false`)
}

func TestConsentRoutes_PerUser(t *testing.T) {
	t.Parallel()

	flow := newConsentFlow(t, http.StatusOK, userTokenBody)
	_, api := humatest.New(t)
	handlers.RegisterConsentRoutes(api, handlers.NewConsentHandler(flow, logger.Discard()))

	resp := api.Post("/api/v1/consent?user=alice", map[string]any{
		"scopes": []string{ebay.ScopeSellInventory},
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var start ebay.ConsentStart
	decodeJSON(t, resp.Body.Bytes(), &start)
	assert.Equal(t, []string{ebay.ScopeSellInventory}, start.Scopes)

	resp = api.Get("/api/v1/consent/sessions/" + start.State)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"user_id":"alice"`)
}

func TestConsentRoutes_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		flow       *ebay.ConsentFlow
		do         func(api humatest.TestAPI) int
		wantStatus int
	}{
		{
			name: "initiate without redirect name",
			flow: ebay.NewConsentFlow(ebay.NewOAuthManager("app", "cert"), "app", ""),
			do: func(api humatest.TestAPI) int {
				return api.Post("/api/v1/consent", map[string]any{}).Code
			},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name: "unknown session",
			flow: newConsentFlow(t, http.StatusOK, userTokenBody),
			do: func(api humatest.TestAPI) int {
				return api.Get("/api/v1/consent/sessions/nope").Code
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "complete with unknown state",
			flow: newConsentFlow(t, http.StatusOK, userTokenBody),
			do: func(api humatest.TestAPI) int {
				return api.Post("/api/v1/consent/complete", map[string]any{
					"callback_url": callbackQuery("forged", "code"),
				}).Code
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "complete with empty url",
			flow: newConsentFlow(t, http.StatusOK, userTokenBody),
			do: func(api humatest.TestAPI) int {
				return api.Post("/api/v1/consent/complete", map[string]any{"callback_url": ""}).Code
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, api := humatest.New(t)
			handlers.RegisterConsentRoutes(api, handlers.NewConsentHandler(tt.flow, logger.Discard()))
			assert.Equal(t, tt.wantStatus, tt.do(api))
		})
	}
}

func TestConsentCallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		tokenCode  int
		tokenBody  string
		query      func(state string) string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "success",
			tokenCode:  http.StatusOK,
			tokenBody:  userTokenBody,
			query:      func(state string) string { return callbackQuery(state, "code") },
			wantStatus: http.StatusOK,
			wantBody:   "authorization complete",
		},
		{
			name:       "user declined",
			tokenCode:  http.StatusOK,
			tokenBody:  userTokenBody,
			query:      func(state string) string { return "state=" + state + "&error=access_denied" },
			wantStatus: http.StatusForbidden,
			wantBody:   "authorization failed",
		},
		{
			name:       "forged state",
			tokenCode:  http.StatusOK,
			tokenBody:  userTokenBody,
			query:      func(string) string { return callbackQuery("forged", "code") },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "exchange rejected",
			tokenCode:  http.StatusBadRequest,
			tokenBody:  `{"error":"invalid_grant","error_description":"code expired"}`,
			query:      func(state string) string { return callbackQuery(state, "stale") },
			wantStatus: http.StatusBadRequest,
			wantBody:   "authorization code rejected",
		},
		{
			name:       "token endpoint down",
			tokenCode:  http.StatusServiceUnavailable,
			tokenBody:  `{"error":"temporarily_unavailable"}`,
			query:      func(state string) string { return callbackQuery(state, "code") },
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			flow := newConsentFlow(t, tt.tokenCode, tt.tokenBody)
			start, err := flow.Initiate(t.Context(), nil)
			require.NoError(t, err)

			h := handlers.NewConsentHandler(flow, logger.Discard())

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/oauth/callback?"+tt.query(start.State), http.NoBody)
			rec := httptest.NewRecorder()

			require.NoError(t, h.Callback(e.NewContext(req, rec)))
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}
