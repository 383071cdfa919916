package ebay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/donaldgifford/ebay-mcp/internal/metrics"
)

const (
	productionTokenURL = "https://api.ebay.com/identity/v1/oauth2/token"         //nolint:gosec // not a credential
	sandboxTokenURL    = "https://api.sandbox.ebay.com/identity/v1/oauth2/token" //nolint:gosec // not a credential

	// DefaultRefreshBuffer is how long before expiry a token is refreshed.
	DefaultRefreshBuffer = 5 * time.Minute

	// DefaultUserID identifies the user session when the context carries none.
	DefaultUserID = "default"

	credentialsRemediation = "set ebay.app_id and ebay.cert_id (EBAY_APP_ID, EBAY_CERT_ID) " +
		"to the keyset for the selected environment"
)

var errInvalidGrant = errors.New("invalid_grant")

type userKey struct{}

// ContextWithUser attaches a user session identity used to select the
// user-consent token.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the user session identity, or DefaultUserID.
func UserFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userKey{}).(string); ok && id != "" {
		return id
	}
	return DefaultUserID
}

// TokenURL returns the eBay token endpoint for the environment.
func TokenURL(sandbox bool) string {
	if sandbox {
		return sandboxTokenURL
	}
	return productionTokenURL
}

// TokenStats counts token lookups and token endpoint calls.
type TokenStats struct {
	Requests  int64 `json:"requests"`
	CacheHits int64 `json:"cache_hits"`
	Minted    int64 `json:"minted"`
	Refreshed int64 `json:"refreshed"`
	Exchanged int64 `json:"exchanged"`
	Errors    int64 `json:"errors"`
	Shared    int64 `json:"shared_waits"`
}

type tokenCounters struct {
	requests, hits, minted, refreshed, exchanged, errors, shared atomic.Int64
}

// OAuthManager supplies access tokens for scope sets. App-only scopes use
// the client credentials grant; scopes that need a user are served from a
// stored user-consent token, refreshed with its refresh token.
//
// Concurrent requests that need the same refresh share a single call to the
// token endpoint.
type OAuthManager struct {
	clientID     string
	clientSecret string
	tokenURL     string
	client       *http.Client
	store        *TokenStore
	buffer       time.Duration
	nowFunc      func() time.Time
	logger       *slog.Logger

	group    singleflight.Group
	counters tokenCounters
}

// OAuthOption configures the OAuthManager.
type OAuthOption func(*OAuthManager)

// WithTokenURL overrides the default eBay token endpoint.
func WithTokenURL(u string) OAuthOption {
	return func(m *OAuthManager) {
		m.tokenURL = u
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) OAuthOption {
	return func(m *OAuthManager) {
		m.client = c
	}
}

// WithNowFunc overrides the time function for testing.
func WithNowFunc(f func() time.Time) OAuthOption {
	return func(m *OAuthManager) {
		m.nowFunc = f
	}
}

// WithRefreshBuffer sets how long before expiry a token stops being handed out.
func WithRefreshBuffer(d time.Duration) OAuthOption {
	return func(m *OAuthManager) {
		m.buffer = d
	}
}

// WithTokenStore injects the token store. The default keeps everything in memory.
func WithTokenStore(s *TokenStore) OAuthOption {
	return func(m *OAuthManager) {
		m.store = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) OAuthOption {
	return func(m *OAuthManager) {
		m.logger = l
	}
}

// NewOAuthManager creates an OAuth manager for the given eBay keyset.
func NewOAuthManager(clientID, clientSecret string, opts ...OAuthOption) *OAuthManager {
	m := &OAuthManager{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     productionTokenURL,
		client:       &http.Client{Timeout: 30 * time.Second},
		buffer:       DefaultRefreshBuffer,
		nowFunc:      time.Now,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewTokenStore(nil)
	}
	return m
}

type tokenResponse struct {
	AccessToken           string `json:"access_token"`
	ExpiresIn             int    `json:"expires_in"`
	TokenType             string `json:"token_type"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresIn int    `json:"refresh_token_expires_in"`
}

type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// GetToken returns a token whose scopes cover the requested set. An empty
// set means the base api_scope. Scopes that require user consent are served
// for the user identified by ctx (see ContextWithUser).
func (m *OAuthManager) GetToken(ctx context.Context, scopes ScopeSet) (*Token, error) {
	if m.clientID == "" || m.clientSecret == "" {
		return nil, &ConfigurationError{
			Message:     "eBay client credentials are not configured",
			Remediation: credentialsRemediation,
		}
	}
	if len(scopes) == 0 {
		scopes = NewScopeSet(ScopeAPI)
	}
	m.counters.requests.Add(1)

	if scopes.RequiresUserConsent() {
		return m.userToken(ctx, UserFromContext(ctx), scopes)
	}
	return m.appToken(ctx, scopes)
}

// Invalidate discards the token that would serve scopes, so the next
// GetToken obtains a fresh one. Used after a 401 from a resource endpoint.
func (m *OAuthManager) Invalidate(ctx context.Context, scopes ScopeSet) {
	if len(scopes) == 0 {
		scopes = NewScopeSet(ScopeAPI)
	}
	if scopes.RequiresUserConsent() {
		m.store.InvalidateUser(UserFromContext(ctx))
		return
	}
	m.store.InvalidateApp(scopes)
}

func (m *OAuthManager) usable(tok *Token) bool {
	return tok.Usable(m.nowFunc(), m.buffer)
}

func (m *OAuthManager) appToken(ctx context.Context, scopes ScopeSet) (*Token, error) {
	if tok := m.store.AppToken(scopes, m.usable); tok != nil {
		m.counters.hits.Add(1)
		metrics.TokenCacheTotal.WithLabelValues(string(TokenTypeApp), "hit").Inc()
		return tok, nil
	}
	metrics.TokenCacheTotal.WithLabelValues(string(TokenTypeApp), "miss").Inc()

	return m.shared(ctx, "app:"+scopes.Key(), func(ctx context.Context) (*Token, error) {
		if tok := m.store.AppToken(scopes, m.usable); tok != nil {
			return tok, nil
		}
		form := url.Values{
			"grant_type": {"client_credentials"},
			"scope":      {scopes.Key()},
		}
		tok, err := m.requestToken(ctx, form, TokenTypeApp, scopes)
		if err != nil {
			return nil, err
		}
		m.store.PutAppToken(tok)
		m.counters.minted.Add(1)
		m.logger.Info("minted app token",
			"scopes", scopes.Key(),
			"expires_at", tok.ExpiresAt,
		)
		return tok, nil
	})
}

func (m *OAuthManager) userToken(ctx context.Context, userID string, scopes ScopeSet) (*Token, error) {
	tok, err := m.store.UserToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := m.checkConsent(tok, scopes); err != nil {
		return nil, err
	}
	if m.usable(tok) {
		m.counters.hits.Add(1)
		metrics.TokenCacheTotal.WithLabelValues(string(TokenTypeUser), "hit").Inc()
		return tok, nil
	}
	metrics.TokenCacheTotal.WithLabelValues(string(TokenTypeUser), "miss").Inc()

	return m.shared(ctx, "user:"+userID, func(ctx context.Context) (*Token, error) {
		cur, err := m.store.UserToken(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := m.checkConsent(cur, scopes); err != nil {
			return nil, err
		}
		if m.usable(cur) {
			return cur, nil
		}
		return m.refreshUser(ctx, userID, cur)
	})
}

func (m *OAuthManager) checkConsent(tok *Token, scopes ScopeSet) error {
	switch {
	case tok == nil:
		return &ConsentRequiredError{Scopes: scopes, Reason: "no user token stored"}
	case !tok.Scopes.Contains(scopes):
		return &ConsentRequiredError{
			Scopes: scopes,
			Reason: "stored consent does not include " + tok.Scopes.Missing(scopes).Key(),
		}
	case !m.usable(tok) && !tok.CanRefresh(m.nowFunc()):
		return &ConsentRequiredError{Scopes: scopes, Reason: "refresh token expired"}
	}
	return nil
}

func (m *OAuthManager) refreshUser(ctx context.Context, userID string, cur *Token) (*Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cur.RefreshToken},
		"scope":         {cur.Scopes.Key()},
	}
	tok, err := m.requestToken(ctx, form, TokenTypeUser, cur.Scopes)
	if errors.Is(err, errInvalidGrant) {
		if delErr := m.store.DeleteUserToken(ctx, userID); delErr != nil {
			m.logger.Warn("dropping revoked user token", "user", userID, "error", delErr)
		}
		return nil, &ConsentRequiredError{Scopes: cur.Scopes, Reason: "refresh token revoked or expired"}
	}
	if err != nil {
		return nil, err
	}

	// eBay does not rotate refresh tokens on refresh.
	if tok.RefreshToken == "" {
		tok.RefreshToken = cur.RefreshToken
		tok.RefreshExpiresAt = cur.RefreshExpiresAt
	}
	if err := m.store.PutUserToken(ctx, userID, tok); err != nil {
		return nil, err
	}
	m.counters.refreshed.Add(1)
	m.logger.Info("refreshed user token",
		"user", userID,
		"scopes", tok.Scopes.Key(),
		"expires_at", tok.ExpiresAt,
	)
	return tok, nil
}

// ExchangeCode trades an authorization code for a user token and stores it
// for the user identified by ctx. It is never retried: codes are single-use.
func (m *OAuthManager) ExchangeCode(
	ctx context.Context,
	code, redirectURI string,
	scopes ScopeSet,
) (*Token, error) {
	if m.clientID == "" || m.clientSecret == "" {
		return nil, &ConfigurationError{
			Message:     "eBay client credentials are not configured",
			Remediation: credentialsRemediation,
		}
	}
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	tok, err := m.requestToken(ctx, form, TokenTypeUser, scopes)
	var reqErr *TokenRequestError
	if errors.As(err, &reqErr) && !errors.Is(err, ErrTransientAuth) {
		return nil, fmt.Errorf("%w: %w", ErrCodeRejected, err)
	}
	if err != nil {
		return nil, err
	}

	userID := UserFromContext(ctx)
	if err := m.store.PutUserToken(ctx, userID, tok); err != nil {
		return nil, err
	}
	m.counters.exchanged.Add(1)
	m.logger.Info("stored user token",
		"user", userID,
		"scopes", tok.Scopes.Key(),
		"expires_at", tok.ExpiresAt,
		"refresh_expires_at", tok.RefreshExpiresAt,
	)
	return tok, nil
}

// UserToken returns the stored user token for the user identified by ctx
// without refreshing it. A missing token yields (nil, nil).
func (m *OAuthManager) UserToken(ctx context.Context) (*Token, error) {
	return m.store.UserToken(ctx, UserFromContext(ctx))
}

// Revoke deletes the stored user token for the user identified by ctx.
func (m *OAuthManager) Revoke(ctx context.Context) error {
	userID := UserFromContext(ctx)
	if err := m.store.DeleteUserToken(ctx, userID); err != nil {
		return err
	}
	m.logger.Info("revoked user token", "user", userID)
	return nil
}

// Stats returns token counters.
func (m *OAuthManager) Stats() TokenStats {
	return TokenStats{
		Requests:  m.counters.requests.Load(),
		CacheHits: m.counters.hits.Load(),
		Minted:    m.counters.minted.Load(),
		Refreshed: m.counters.refreshed.Load(),
		Exchanged: m.counters.exchanged.Load(),
		Errors:    m.counters.errors.Load(),
		Shared:    m.counters.shared.Load(),
	}
}

// Status lists cached tokens without secret values.
func (m *OAuthManager) Status() []Info {
	return m.store.Snapshot(m.nowFunc(), m.buffer)
}

// Configured reports whether client credentials are present.
func (m *OAuthManager) Configured() bool {
	return m.clientID != "" && m.clientSecret != ""
}

// shared runs fn once per key across concurrent callers. fn runs detached
// from any single caller's cancellation; each caller still stops waiting
// when its own ctx is done.
func (m *OAuthManager) shared(
	ctx context.Context,
	key string,
	fn func(context.Context) (*Token, error),
) (*Token, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			m.counters.shared.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		tok, _ := res.Val.(*Token) //nolint:errcheck // type is fixed by fn
		return tok, nil
	}
}

func (m *OAuthManager) requestToken(
	ctx context.Context,
	form url.Values,
	typ TokenType,
	scopes ScopeSet,
) (*Token, error) {
	grant := form.Get("grant_type")
	tok, err := m.doTokenRequest(ctx, form, typ, scopes)
	if err != nil {
		m.counters.errors.Add(1)
		metrics.TokenRequestsTotal.WithLabelValues(grant, "error").Inc()
		return nil, err
	}
	metrics.TokenRequestsTotal.WithLabelValues(grant, "ok").Inc()
	return tok, nil
}

func (m *OAuthManager) doTokenRequest(
	ctx context.Context,
	form url.Values,
	typ TokenType,
	scopes ScopeSet,
) (*Token, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		m.tokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	creds := base64.StdEncoding.EncodeToString(
		[]byte(m.clientID + ":" + m.clientSecret),
	)
	req.Header.Set("Authorization", "Basic "+creds)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &TransientAuthError{Err: fmt.Errorf("executing token request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientAuthError{Err: fmt.Errorf("reading token response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, tokenError(resp.StatusCode, body)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, &TransientAuthError{Err: fmt.Errorf("parsing token response: %w", err)}
	}
	if tokenResp.AccessToken == "" {
		return nil, &TransientAuthError{Err: errors.New("parsing token response: missing access_token")}
	}

	now := m.nowFunc()
	expiresIn := time.Duration(tokenResp.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	tok := &Token{
		AccessToken:  tokenResp.AccessToken,
		Type:         typ,
		Scopes:       scopes,
		IssuedAt:     now,
		ExpiresAt:    now.Add(expiresIn),
		RefreshToken: tokenResp.RefreshToken,
	}
	if tokenResp.RefreshTokenExpiresIn > 0 {
		tok.RefreshExpiresAt = now.Add(time.Duration(tokenResp.RefreshTokenExpiresIn) * time.Second)
	}
	return tok, nil
}

// tokenError maps a token endpoint failure onto the error taxonomy.
func tokenError(status int, body []byte) error {
	var errResp tokenErrorResponse
	_ = json.Unmarshal(body, &errResp) //nolint:errcheck // best-effort error parsing
	base := &TokenRequestError{
		StatusCode:  status,
		Code:        errResp.Error,
		Description: errResp.ErrorDescription,
	}

	switch {
	case status >= 500 || status == http.StatusTooManyRequests:
		return &TransientAuthError{Err: base}
	case errResp.Error == "invalid_grant":
		return fmt.Errorf("%w: %w", errInvalidGrant, base)
	case errResp.Error == "invalid_client" || status == http.StatusUnauthorized:
		return &ConfigurationError{Message: base.Error(), Remediation: credentialsRemediation}
	case errResp.Error == "invalid_scope":
		return &ConfigurationError{
			Message:     base.Error(),
			Remediation: "the keyset is not granted one of the requested scopes",
		}
	case errResp.Error == "unsupported_grant_type":
		return &ConfigurationError{
			Message:     base.Error(),
			Remediation: "the keyset is not enabled for this OAuth grant",
		}
	default:
		return base
	}
}
