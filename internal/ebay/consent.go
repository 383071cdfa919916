package ebay

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/donaldgifford/ebay-mcp/internal/metrics"
)

const (
	productionAuthURL = "https://auth.ebay.com/oauth2/authorize"
	sandboxAuthURL    = "https://auth.sandbox.ebay.com/oauth2/authorize"

	// DefaultConsentWindow is how long an initiated consent stays valid.
	DefaultConsentWindow = 5 * time.Minute
)

// Consent flow errors.
var (
	ErrInvalidConsentState   = errors.New("consent state does not match a pending session")
	ErrConsentSessionExpired = errors.New("consent session expired")
	ErrConsentAlreadyUsed    = errors.New("consent session already used")
	ErrConsentDenied         = errors.New("user denied consent")
	ErrMissingCode           = errors.New("callback has no authorization code")
	ErrCodeRejected          = errors.New("authorization code rejected")
)

// AuthorizeURL returns the eBay authorization endpoint for the environment.
func AuthorizeURL(sandbox bool) string {
	if sandbox {
		return sandboxAuthURL
	}
	return productionAuthURL
}

// FlowState is the position of a consent in the authorization protocol.
type FlowState string

// Flow states.
const (
	FlowNotStarted            FlowState = "NOT_STARTED"
	FlowAwaitingAuthorization FlowState = "AWAITING_AUTHORIZATION"
	FlowExchangingCode        FlowState = "EXCHANGING_CODE"
	FlowComplete              FlowState = "COMPLETE"
	FlowFailed                FlowState = "FAILED"
)

// SessionStatus is the lifecycle status of a ConsentSession.
type SessionStatus string

// Session statuses.
const (
	SessionPending   SessionStatus = "PENDING"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionExpired   SessionStatus = "EXPIRED"
)

// ConsentSession is one initiated consent, keyed by its state nonce.
type ConsentSession struct {
	State           string        `json:"state"`
	RequestedScopes ScopeSet      `json:"requested_scopes"`
	RedirectURI     string        `json:"redirect_uri"`
	UserID          string        `json:"user_id"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	Status          SessionStatus `json:"status"`
	Flow            FlowState     `json:"flow"`
	Error           string        `json:"error,omitempty"`
}

// ConsentStart is returned by Initiate.
type ConsentStart struct {
	AuthorizationURL string    `json:"authorization_url"`
	State            string    `json:"state"`
	RedirectURI      string    `json:"redirect_uri"`
	Scopes           []string  `json:"scopes"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// ConsentStatus is returned by CheckStatus.
type ConsentStatus struct {
	Consented        bool       `json:"consented"`
	Scopes           []string   `json:"scopes,omitempty"`
	MissingScopes    []string   `json:"missing_scopes,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
	Flow             FlowState  `json:"flow"`
}

// ConsentFlow drives the authorization code grant: Initiate hands out a URL
// carrying a random state nonce, Complete validates the callback against the
// pending session and exchanges the code exactly once.
type ConsentFlow struct {
	oauth       *OAuthManager
	clientID    string
	redirectURI string
	authURL     string
	window      time.Duration
	nowFunc     func() time.Time
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*ConsentSession
}

// ConsentOption configures the ConsentFlow.
type ConsentOption func(*ConsentFlow)

// WithAuthorizeURL overrides the eBay authorization endpoint.
func WithAuthorizeURL(u string) ConsentOption {
	return func(f *ConsentFlow) {
		f.authURL = u
	}
}

// WithConsentWindow sets how long a session may stay pending.
func WithConsentWindow(d time.Duration) ConsentOption {
	return func(f *ConsentFlow) {
		f.window = d
	}
}

// WithConsentNowFunc overrides the time function for testing.
func WithConsentNowFunc(fn func() time.Time) ConsentOption {
	return func(f *ConsentFlow) {
		f.nowFunc = fn
	}
}

// WithConsentLogger sets the logger.
func WithConsentLogger(l *slog.Logger) ConsentOption {
	return func(f *ConsentFlow) {
		f.logger = l
	}
}

// NewConsentFlow creates a consent flow. redirectURI is the eBay RuName
// registered for the keyset.
func NewConsentFlow(oauth *OAuthManager, clientID, redirectURI string, opts ...ConsentOption) *ConsentFlow {
	f := &ConsentFlow{
		oauth:       oauth,
		clientID:    clientID,
		redirectURI: redirectURI,
		authURL:     productionAuthURL,
		window:      DefaultConsentWindow,
		nowFunc:     time.Now,
		logger:      slog.New(slog.DiscardHandler),
		sessions:    make(map[string]*ConsentSession),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Initiate starts a consent for scopes (UserConsentScopes when empty) on
// behalf of the user identified by ctx.
func (f *ConsentFlow) Initiate(ctx context.Context, scopes ScopeSet) (*ConsentStart, error) {
	if f.clientID == "" || f.redirectURI == "" {
		return nil, &ConfigurationError{
			Message:     "user consent is not configured",
			Remediation: "set ebay.app_id and ebay.ru_name (EBAY_RU_NAME) to the keyset's redirect URL name",
		}
	}
	if len(scopes) == 0 {
		scopes = UserConsentScopes
	}
	if unknown := scopes.Unknown(); len(unknown) > 0 {
		f.logger.Warn("consent requested for unknown scopes", "scopes", unknown.Key())
	}

	state, err := newState()
	if err != nil {
		return nil, err
	}

	now := f.nowFunc()
	sess := &ConsentSession{
		State:           state,
		RequestedScopes: scopes,
		RedirectURI:     f.redirectURI,
		UserID:          UserFromContext(ctx),
		CreatedAt:       now,
		ExpiresAt:       now.Add(f.window),
		Status:          SessionPending,
		Flow:            FlowAwaitingAuthorization,
	}

	f.mu.Lock()
	f.sessions[state] = sess
	f.mu.Unlock()

	q := url.Values{
		"client_id":     {f.clientID},
		"redirect_uri":  {f.redirectURI},
		"response_type": {"code"},
		"scope":         {scopes.Key()},
		"state":         {state},
	}
	metrics.ConsentFlowsTotal.WithLabelValues("initiated").Inc()
	f.logger.Info("consent initiated", "user", sess.UserID, "scopes", scopes.Key(), "expires_at", sess.ExpiresAt)

	return &ConsentStart{
		AuthorizationURL: f.authURL + "?" + q.Encode(),
		State:            state,
		RedirectURI:      f.redirectURI,
		Scopes:           []string(scopes),
		ExpiresAt:        sess.ExpiresAt,
	}, nil
}

// Complete validates the callback URL (or bare query string) against its
// pending session and exchanges the authorization code for a user token.
// A failed exchange is terminal for the session.
func (f *ConsentFlow) Complete(ctx context.Context, callbackURL string) (*Token, error) {
	code, state, err := parseCallback(callbackURL)
	if err != nil {
		metrics.ConsentFlowsTotal.WithLabelValues("rejected").Inc()
		if state != "" {
			f.fail(state, err)
		}
		return nil, err
	}

	sess, err := f.claim(state)
	if err != nil {
		metrics.ConsentFlowsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	ctx = ContextWithUser(ctx, sess.UserID)
	tok, err := f.oauth.ExchangeCode(ctx, code, sess.RedirectURI, sess.RequestedScopes)
	if err != nil {
		f.fail(state, err)
		metrics.ConsentFlowsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	f.mu.Lock()
	sess.Status = SessionCompleted
	sess.Flow = FlowComplete
	f.mu.Unlock()

	metrics.ConsentFlowsTotal.WithLabelValues("completed").Inc()
	f.logger.Info("consent completed", "user", sess.UserID, "scopes", tok.Scopes.Key())
	return tok, nil
}

// claim moves a pending, unexpired session into EXCHANGING_CODE.
func (f *ConsentFlow) claim(state string) (*ConsentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sess, ok := f.sessions[state]
	if !ok {
		return nil, ErrInvalidConsentState
	}
	if !f.nowFunc().Before(sess.ExpiresAt) {
		delete(f.sessions, state)
		return nil, ErrConsentSessionExpired
	}
	if sess.Status != SessionPending || sess.Flow != FlowAwaitingAuthorization {
		return nil, ErrConsentAlreadyUsed
	}
	sess.Flow = FlowExchangingCode
	return sess, nil
}

func (f *ConsentFlow) fail(state string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[state]
	if !ok || sess.Status != SessionPending {
		return
	}
	sess.Flow = FlowFailed
	sess.Error = err.Error()
	f.logger.Warn("consent failed", "user", sess.UserID, "error", err)
}

// CheckStatus reports whether the user identified by ctx has a stored
// consent covering scopes (UserConsentScopes when empty).
func (f *ConsentFlow) CheckStatus(ctx context.Context, scopes ScopeSet) (*ConsentStatus, error) {
	if len(scopes) == 0 {
		scopes = UserConsentScopes
	}
	tok, err := f.oauth.UserToken(ctx)
	if err != nil {
		return nil, err
	}

	st := &ConsentStatus{Flow: f.latestFlow(UserFromContext(ctx))}
	if tok == nil {
		st.MissingScopes = []string(scopes)
		return st, nil
	}

	now := f.nowFunc()
	st.Scopes = []string(tok.Scopes)
	st.MissingScopes = []string(tok.Scopes.Missing(scopes))
	st.Consented = len(st.MissingScopes) == 0 && (tok.CanRefresh(now) || now.Before(tok.ExpiresAt))
	expires := tok.ExpiresAt
	st.ExpiresAt = &expires
	if !tok.RefreshExpiresAt.IsZero() {
		r := tok.RefreshExpiresAt
		st.RefreshExpiresAt = &r
	}
	if st.Consented {
		st.Flow = FlowComplete
	}
	return st, nil
}

// latestFlow returns the flow state of the user's most recent live session.
func (f *ConsentFlow) latestFlow(userID string) FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.nowFunc()
	var latest *ConsentSession
	for _, s := range f.sessions {
		if s.UserID != userID {
			continue
		}
		if s.Status == SessionPending && !now.Before(s.ExpiresAt) {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return FlowNotStarted
	}
	return latest.Flow
}

// Session returns a copy of the session for state. Pending sessions past
// their window report EXPIRED and NOT_STARTED.
func (f *ConsentFlow) Session(state string) (ConsentSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[state]
	if !ok {
		return ConsentSession{}, false
	}
	cp := *sess
	if cp.Status == SessionPending && !f.nowFunc().Before(cp.ExpiresAt) {
		cp.Status = SessionExpired
		cp.Flow = FlowNotStarted
	}
	return cp, true
}

// Revoke deletes the stored consent of the user identified by ctx.
func (f *ConsentFlow) Revoke(ctx context.Context) error {
	if err := f.oauth.Revoke(ctx); err != nil {
		return err
	}
	userID := UserFromContext(ctx)
	f.mu.Lock()
	for state, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, state)
		}
	}
	f.mu.Unlock()
	metrics.ConsentFlowsTotal.WithLabelValues("revoked").Inc()
	return nil
}

// Prune drops every session past its window and returns the number removed.
func (f *ConsentFlow) Prune() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.nowFunc()
	n := 0
	for state, s := range f.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(f.sessions, state)
			n++
		}
	}
	return n
}

// PendingCount returns the number of live pending sessions.
func (f *ConsentFlow) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.nowFunc()
	n := 0
	for _, s := range f.sessions {
		if s.Status == SessionPending && now.Before(s.ExpiresAt) {
			n++
		}
	}
	return n
}

// parseCallback extracts code and state from a redirect URL or query string.
func parseCallback(callback string) (code, state string, err error) {
	raw := strings.TrimSpace(callback)
	var q url.Values
	if u, perr := url.Parse(raw); perr == nil && (u.RawQuery != "" || u.Scheme != "") {
		q = u.Query()
	} else {
		q, err = url.ParseQuery(strings.TrimPrefix(raw, "?"))
		if err != nil {
			return "", "", fmt.Errorf("parsing callback: %w", err)
		}
	}

	state = q.Get("state")
	if e := q.Get("error"); e != "" {
		return "", state, fmt.Errorf("%w: %s %s", ErrConsentDenied, e, q.Get("error_description"))
	}
	if state == "" {
		return "", "", ErrInvalidConsentState
	}
	code = q.Get("code")
	if code == "" {
		return "", state, ErrMissingCode
	}
	return code, state, nil
}

func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating consent state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
