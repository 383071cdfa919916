package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/labstack/echo/v4"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
)

// ConsentManager drives the eBay authorization code grant.
type ConsentManager interface {
	Initiate(ctx context.Context, scopes ebay.ScopeSet) (*ebay.ConsentStart, error)
	Complete(ctx context.Context, callbackURL string) (*ebay.Token, error)
	CheckStatus(ctx context.Context, scopes ebay.ScopeSet) (*ebay.ConsentStatus, error)
	Session(state string) (ebay.ConsentSession, bool)
	Revoke(ctx context.Context) error
}

// ConsentHandler exposes the consent flow over HTTP: a huma API for
// operators and the browser-facing callback eBay redirects to.
type ConsentHandler struct {
	flow ConsentManager
	log  *slog.Logger
}

// NewConsentHandler creates a ConsentHandler.
func NewConsentHandler(flow ConsentManager, log *slog.Logger) *ConsentHandler {
	return &ConsentHandler{flow: flow, log: log}
}

// --- Input/Output types ---

// ConsentUserInput names the user a consent belongs to.
type ConsentUserInput struct {
	User string `query:"user" doc:"User the consent belongs to (default user when empty)"`
}

// CheckConsentInput is the input for checking consent status.
type CheckConsentInput struct {
	ConsentUserInput
	Scopes []string `query:"scope" doc:"Scopes that must be granted; defaults to the seller scope set"`
}

// CheckConsentOutput is the response for checking consent status.
type CheckConsentOutput struct {
	Body ebay.ConsentStatus
}

// InitiateConsentInput is the input for starting a consent.
type InitiateConsentInput struct {
	ConsentUserInput
	Body struct {
		Scopes []string `json:"scopes,omitempty" doc:"Scopes to request; defaults to the seller scope set"`
	}
}

// InitiateConsentOutput is the response for starting a consent.
type InitiateConsentOutput struct {
	Body ebay.ConsentStart
}

// CompleteConsentInput carries the URL eBay redirected the browser to.
type CompleteConsentInput struct {
	Body struct {
		CallbackURL string `json:"callback_url" minLength:"1" doc:"Full redirect URL, or just its query string"`
	}
}

// CompleteConsentOutput is the response for completing a consent.
type CompleteConsentOutput struct {
	Body struct {
		Scopes           []string  `json:"scopes"`
		ExpiresAt        time.Time `json:"expires_at"`
		RefreshExpiresAt time.Time `json:"refresh_expires_at,omitzero"`
	}
}

// GetSessionInput is the input for looking up a consent session.
type GetSessionInput struct {
	State string `path:"state" doc:"State nonce returned by initiate"`
}

// GetSessionOutput is the response for looking up a consent session.
type GetSessionOutput struct {
	Body ebay.ConsentSession
}

// RevokeConsentOutput is the response for revoking a consent.
type RevokeConsentOutput struct {
	Body StatusResponse
}

func (in *ConsentUserInput) withUser(ctx context.Context) context.Context {
	if in.User == "" {
		return ctx
	}
	return ebay.ContextWithUser(ctx, in.User)
}

// --- Handlers ---

// CheckConsent reports whether a usable user token covers the scopes.
func (h *ConsentHandler) CheckConsent(ctx context.Context, input *CheckConsentInput) (*CheckConsentOutput, error) {
	st, err := h.flow.CheckStatus(input.withUser(ctx), ebay.NewScopeSet(input.Scopes...))
	if err != nil {
		return nil, failureError(err)
	}
	return &CheckConsentOutput{Body: *st}, nil
}

// InitiateConsent starts a consent and returns the URL to open in a browser.
func (h *ConsentHandler) InitiateConsent(
	ctx context.Context,
	input *InitiateConsentInput,
) (*InitiateConsentOutput, error) {
	start, err := h.flow.Initiate(input.withUser(ctx), ebay.NewScopeSet(input.Body.Scopes...))
	if err != nil {
		return nil, failureError(err)
	}
	return &InitiateConsentOutput{Body: *start}, nil
}

// CompleteConsent exchanges the authorization code from a pasted redirect URL.
func (h *ConsentHandler) CompleteConsent(
	ctx context.Context,
	input *CompleteConsentInput,
) (*CompleteConsentOutput, error) {
	tok, err := h.flow.Complete(ctx, input.Body.CallbackURL)
	if err != nil {
		if status, ok := callbackStatus(err); ok {
			return nil, huma.NewError(status, err.Error())
		}
		return nil, failureError(err)
	}

	resp := &CompleteConsentOutput{}
	resp.Body.Scopes = []string(tok.Scopes)
	resp.Body.ExpiresAt = tok.ExpiresAt
	resp.Body.RefreshExpiresAt = tok.RefreshExpiresAt
	return resp, nil
}

// GetSession returns one consent session by state.
func (h *ConsentHandler) GetSession(_ context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
	sess, ok := h.flow.Session(input.State)
	if !ok {
		return nil, huma.Error404NotFound("consent session not found")
	}
	return &GetSessionOutput{Body: sess}, nil
}

// RevokeConsent deletes the stored user token.
func (h *ConsentHandler) RevokeConsent(ctx context.Context, input *ConsentUserInput) (*RevokeConsentOutput, error) {
	if err := h.flow.Revoke(input.withUser(ctx)); err != nil {
		return nil, huma.Error500InternalServerError("revoking consent failed: " + err.Error())
	}
	return &RevokeConsentOutput{Body: StatusResponse{Status: "revoked"}}, nil
}

// Callback receives the browser redirect from eBay's consent page and
// completes the exchange. The response is plain text for a human reader.
func (h *ConsentHandler) Callback(c echo.Context) error {
	_, err := h.flow.Complete(c.Request().Context(), c.Request().URL.String())
	if err != nil {
		status, ok := callbackStatus(err)
		if !ok {
			status = http.StatusBadGateway
		}
		h.log.Warn("consent callback failed", "status", status, "error", err)
		return c.String(status, "eBay authorization failed: "+err.Error()+"\n")
	}

	h.log.Info("consent callback completed")
	return c.String(http.StatusOK, "eBay authorization complete. You can close this window.\n")
}

// callbackStatus maps callback validation errors and rejected codes onto
// HTTP statuses. Other token exchange failures are not matched.
func callbackStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, ebay.ErrConsentDenied):
		return http.StatusForbidden, true
	case errors.Is(err, ebay.ErrInvalidConsentState),
		errors.Is(err, ebay.ErrConsentSessionExpired),
		errors.Is(err, ebay.ErrMissingCode),
		errors.Is(err, ebay.ErrCodeRejected):
		return http.StatusBadRequest, true
	case errors.Is(err, ebay.ErrConsentAlreadyUsed):
		return http.StatusConflict, true
	default:
		return 0, false
	}
}

// RegisterConsentRoutes registers consent endpoints with the Huma API.
func RegisterConsentRoutes(api huma.API, h *ConsentHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "check-consent",
		Method:      http.MethodGet,
		Path:        "/api/v1/consent",
		Summary:     "Check user consent",
		Description: "Reports whether a stored user token grants the requested scopes.",
		Tags:        []string{"consent"},
	}, h.CheckConsent)

	huma.Register(api, huma.Operation{
		OperationID:   "initiate-consent",
		Method:        http.MethodPost,
		Path:          "/api/v1/consent",
		Summary:       "Initiate user consent",
		Description:   "Creates a consent session and returns the eBay authorization URL.",
		Tags:          []string{"consent"},
		DefaultStatus: http.StatusCreated,
	}, h.InitiateConsent)

	huma.Register(api, huma.Operation{
		OperationID: "complete-consent",
		Method:      http.MethodPost,
		Path:        "/api/v1/consent/complete",
		Summary:     "Complete user consent",
		Description: "Validates the redirect URL against its session and exchanges the authorization code.",
		Tags:        []string{"consent"},
	}, h.CompleteConsent)

	huma.Register(api, huma.Operation{
		OperationID: "get-consent-session",
		Method:      http.MethodGet,
		Path:        "/api/v1/consent/sessions/{state}",
		Summary:     "Get consent session",
		Tags:        []string{"consent"},
	}, h.GetSession)

	huma.Register(api, huma.Operation{
		OperationID: "revoke-consent",
		Method:      http.MethodDelete,
		Path:        "/api/v1/consent",
		Summary:     "Revoke user consent",
		Description: "Deletes the stored user token and any sessions for the user.",
		Tags:        []string{"consent"},
	}, h.RevokeConsent)
}
