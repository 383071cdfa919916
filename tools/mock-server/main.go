// Package main implements a fake eBay API for local development of
// ebay-mcp. It serves the OAuth token and authorize endpoints plus the
// Browse, Taxonomy, Account, Inventory and Analytics paths the tools call,
// so the whole consent flow can be exercised without a developer keyset.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type browseAPIResponse struct {
	ItemSummaries []json.RawMessage `json:"itemSummaries"`
	Total         int               `json:"total"`
	Offset        int               `json:"offset"`
	Limit         int               `json:"limit"`
	Next          string            `json:"next,omitempty"`
}

type itemSummary struct {
	ItemID string `json:"itemId"`
	Title  string `json:"title"`
}

type mockServer struct {
	logger   *slog.Logger
	items    []json.RawMessage
	titles   []string
	ids      []string
	failRate float64

	mu        sync.Mutex
	inventory map[string]json.RawMessage
	codes     map[string]bool
	calls     int64
}

func main() {
	port := flag.Int("port", 8089, "port to listen on")
	fixtureFile := flag.String("fixture", "", "path to a Browse search response fixture (default: generated items)")
	failRate := flag.Float64("fail-rate", 0, "fraction of REST calls answered with 503, to exercise retries and circuits")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	fixture := defaultFixture()
	if *fixtureFile != "" {
		var err error
		fixture, err = loadFixture(*fixtureFile)
		if err != nil {
			logger.Error("failed to load fixture", "path", *fixtureFile, "error", err)
			os.Exit(1)
		}
	}
	logger.Info("loaded fixture", "items", len(fixture.ItemSummaries))

	m := newMockServer(logger, fixture, *failRate)

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("starting mock eBay server", "addr", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      requestLogger(logger, m.routes()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newMockServer(logger *slog.Logger, fixture *browseAPIResponse, failRate float64) *mockServer {
	m := &mockServer{
		logger:    logger,
		failRate:  failRate,
		inventory: map[string]json.RawMessage{},
		codes:     map[string]bool{},
	}
	for _, raw := range fixture.ItemSummaries {
		var s itemSummary
		//nolint:errcheck,gosec // fixture data is trusted; field extraction is best-effort
		json.Unmarshal(raw, &s)
		m.items = append(m.items, raw)
		m.titles = append(m.titles, strings.ToLower(s.Title))
		m.ids = append(m.ids, s.ItemID)
	}
	return m
}

func (m *mockServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /identity/v1/oauth2/token", m.tokenHandler)
	mux.HandleFunc("GET /oauth2/authorize", m.authorizeHandler)
	mux.HandleFunc("GET /buy/browse/v1/item_summary/search", m.flaky(m.searchHandler))
	mux.HandleFunc("GET /buy/browse/v1/item/{id}", m.flaky(m.itemHandler))
	mux.HandleFunc("GET /commerce/taxonomy/v1/get_default_category_tree_id", m.flaky(treeHandler))
	mux.HandleFunc("GET /commerce/taxonomy/v1/category_tree/{id}/get_category_suggestions", m.flaky(suggestionsHandler))
	mux.HandleFunc("GET /sell/account/v1/{kind}", m.flaky(policyHandler))
	mux.HandleFunc("GET /sell/inventory/v1/inventory_item", m.flaky(m.listInventoryHandler))
	mux.HandleFunc("GET /sell/inventory/v1/inventory_item/{sku}", m.flaky(m.getInventoryHandler))
	mux.HandleFunc("PUT /sell/inventory/v1/inventory_item/{sku}", m.flaky(m.putInventoryHandler))
	mux.HandleFunc("DELETE /sell/inventory/v1/inventory_item/{sku}", m.flaky(m.deleteInventoryHandler))
	mux.HandleFunc("GET /developer/analytics/v1_beta/rate_limit/", m.rateLimitHandler)
	return mux
}

func defaultFixture() *browseAPIResponse {
	titles := []string{
		"Leica M6 0.72 Rangefinder Film Camera Body",
		"Nikon F3 HP 35mm SLR Film Camera",
		"Canon AE-1 Program with FD 50mm f/1.8",
		"Hasselblad 500C/M Medium Format Camera",
		"Pentax K1000 35mm SLR with 50mm Lens",
		"Olympus OM-1 Black Body Serviced",
		"Mamiya RB67 Pro S with 90mm Lens",
		"Rolleiflex 2.8F Twin Lens Reflex",
	}
	resp := &browseAPIResponse{}
	for i, title := range titles {
		raw, _ := json.Marshal(map[string]any{ //nolint:errcheck // static data
			"itemId":     fmt.Sprintf("v1|1100%08d|0", i+1),
			"title":      title,
			"price":      map[string]string{"value": fmt.Sprintf("%d.00", 150+i*125), "currency": "USD"},
			"condition":  "Used",
			"itemWebUrl": fmt.Sprintf("https://www.ebay.com/itm/1100%08d", i+1),
		})
		resp.ItemSummaries = append(resp.ItemSummaries, raw)
	}
	resp.Total = len(resp.ItemSummaries)
	return resp
}

func loadFixture(path string) (*browseAPIResponse, error) {
	data, err := os.ReadFile(path) //nolint:gosec // fixture path from trusted CLI flag
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var resp browseAPIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return &resp, nil
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,gosec // best-effort write to HTTP response in mock server
	json.NewEncoder(w).Encode(v)
}

// writeEbayError writes an eBay-style error document.
func writeEbayError(w http.ResponseWriter, status, errorID int, category, message string) {
	writeJSON(w, status, map[string]any{
		"errors": []map[string]any{{
			"errorId":  errorID,
			"domain":   "API_MOCK",
			"category": category,
			"message":  message,
		}},
	})
}

// flaky answers a share of calls with a retryable 503 and counts every call
// against the reported quota.
func (m *mockServer) flaky(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.calls++
		m.mu.Unlock()

		if m.failRate > 0 && rand.Float64() < m.failRate { //nolint:gosec // not security sensitive
			writeEbayError(w, http.StatusServiceUnavailable, 10001, "APPLICATION", "Service unavailable.")
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeEbayError(w, http.StatusUnauthorized, 1001, "REQUEST", "Invalid access token.")
			return
		}
		next(w, r)
	}
}

func (m *mockServer) tokenHandler(w http.ResponseWriter, r *http.Request) {
	// Validate Basic Auth header is present (don't verify creds).
	if _, _, ok := r.BasicAuth(); !ok {
		m.logger.Warn("token request missing Basic Auth header")
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             "invalid_client",
			"error_description": "client authentication failed",
		})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	suffix := strconv.FormatInt(time.Now().UnixNano(), 16)
	switch grant := r.PostForm.Get("grant_type"); grant {
	case "client_credentials":
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "mock-app-" + suffix,
			"expires_in":   7200,
			"token_type":   "Application Access Token",
		})
		m.logger.Info("issued mock app token", "scope", r.PostForm.Get("scope"))
	case "authorization_code":
		code := r.PostForm.Get("code")
		m.mu.Lock()
		valid := m.codes[code]
		delete(m.codes, code)
		m.mu.Unlock()
		if !valid {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "the provided authorization grant code is invalid or was issued to another client",
			})
			return
		}
		m.writeUserToken(w, suffix)
		m.logger.Info("exchanged mock authorization code")
	case "refresh_token":
		m.writeUserToken(w, suffix)
		m.logger.Info("refreshed mock user token")
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (*mockServer) writeUserToken(w http.ResponseWriter, suffix string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":             "mock-user-" + suffix,
		"expires_in":               7200,
		"refresh_token":            "mock-refresh-" + suffix,
		"refresh_token_expires_in": 47304000,
		"token_type":               "User Access Token",
	})
}

// authorizeHandler grants consent immediately and redirects back with a
// single-use code. redirect_uri must be a URL here, not a RuName.
func (m *mockServer) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirect.Scheme == "" {
		http.Error(w, "redirect_uri must be an absolute URL for the mock server", http.StatusBadRequest)
		return
	}

	code := "mock-code-" + strconv.FormatInt(time.Now().UnixNano(), 16)
	m.mu.Lock()
	m.codes[code] = true
	m.mu.Unlock()

	back := redirect.Query()
	back.Set("code", code)
	back.Set("state", q.Get("state"))
	back.Set("expires_in", "299")
	redirect.RawQuery = back.Encode()

	m.logger.Info("granted mock consent", "scope", q.Get("scope"))
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (m *mockServer) searchHandler(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("q"))
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	// Filter items by query substring match on title.
	var matched []json.RawMessage
	for i, title := range m.titles {
		if q == "" || strings.Contains(title, q) {
			matched = append(matched, m.items[i])
		}
	}

	total := len(matched)

	// Apply pagination.
	if offset >= len(matched) {
		matched = nil
	} else {
		end := min(offset+limit, len(matched))
		matched = matched[offset:end]
	}

	next := ""
	if offset+limit < total {
		next = fmt.Sprintf("/buy/browse/v1/item_summary/search?q=%s&offset=%d&limit=%d",
			url.QueryEscape(r.URL.Query().Get("q")), offset+limit, limit)
	}

	resp := browseAPIResponse{
		ItemSummaries: matched,
		Total:         total,
		Offset:        offset,
		Limit:         limit,
		Next:          next,
	}

	// Return empty array instead of null when no results.
	if resp.ItemSummaries == nil {
		resp.ItemSummaries = []json.RawMessage{}
	}

	writeJSON(w, http.StatusOK, resp)
	m.logger.Info("search", "query", q, "matched", total, "returned", len(matched), "offset", offset, "limit", limit)
}

func (m *mockServer) itemHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for i, itemID := range m.ids {
		if itemID == id {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(m.items[i]) //nolint:errcheck // best-effort write in mock server
			return
		}
	}
	writeEbayError(w, http.StatusNotFound, 11001, "REQUEST", "The specified item Id was not found.")
}

func treeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("marketplace_id") == "" {
		writeEbayError(w, http.StatusBadRequest, 62004, "REQUEST", "The marketplace_id is required.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"categoryTreeId": "0", "categoryTreeVersion": "130"})
}

func suggestionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"categoryTreeId": r.PathValue("id"),
		"categorySuggestions": []map[string]any{{
			"category":              map[string]string{"categoryId": "15230", "categoryName": "Film Cameras"},
			"categoryTreeNodeLevel": 3,
			"categoryTreeNodeAncestors": []map[string]string{
				{"categoryId": "625", "categoryName": "Cameras & Photo"},
			},
		}},
	})
}

func policyHandler(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	field, ok := map[string]string{
		"fulfillment_policy": "fulfillmentPolicies",
		"payment_policy":     "paymentPolicies",
		"return_policy":      "returnPolicies",
	}[kind]
	if !ok {
		writeEbayError(w, http.StatusNotFound, 2002, "REQUEST", "Resource not found.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": 1,
		field: []map[string]string{{
			"name":          "Mock " + strings.TrimSuffix(kind, "_policy") + " policy",
			"marketplaceId": r.URL.Query().Get("marketplace_id"),
		}},
	})
}

func (m *mockServer) listInventoryHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 25)
	offset := queryInt(r, "offset", 0)

	m.mu.Lock()
	items := make([]json.RawMessage, 0, len(m.inventory))
	for _, raw := range m.inventory {
		items = append(items, raw)
	}
	m.mu.Unlock()

	total := len(items)
	if offset >= total {
		items = []json.RawMessage{}
	} else {
		items = items[offset:min(offset+limit, total)]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":          total,
		"size":           len(items),
		"limit":          limit,
		"offset":         offset,
		"inventoryItems": items,
	})
}

func (m *mockServer) getInventoryHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	raw, ok := m.inventory[r.PathValue("sku")]
	m.mu.Unlock()
	if !ok {
		writeEbayError(w, http.StatusNotFound, 25710, "REQUEST", "We didn't find the entity you are requesting.")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw) //nolint:errcheck // best-effort write in mock server
}

func (m *mockServer) putInventoryHandler(w http.ResponseWriter, r *http.Request) {
	var item map[string]any
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeEbayError(w, http.StatusBadRequest, 2004, "REQUEST", "Invalid request body.")
		return
	}
	if r.Header.Get("Content-Language") == "" {
		writeEbayError(w, http.StatusBadRequest, 25709, "REQUEST", "Invalid value for header Content-Language.")
		return
	}
	sku := r.PathValue("sku")
	item["sku"] = sku
	raw, _ := json.Marshal(item) //nolint:errcheck // decoded JSON re-encodes

	m.mu.Lock()
	_, existed := m.inventory[sku]
	m.inventory[sku] = raw
	m.mu.Unlock()

	if existed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (m *mockServer) deleteInventoryHandler(w http.ResponseWriter, r *http.Request) {
	sku := r.PathValue("sku")
	m.mu.Lock()
	_, ok := m.inventory[sku]
	delete(m.inventory, sku)
	m.mu.Unlock()
	if !ok {
		writeEbayError(w, http.StatusNotFound, 25710, "REQUEST", "We didn't find the entity you are requesting.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *mockServer) rateLimitHandler(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	used := m.calls
	m.mu.Unlock()

	const limit = 5000
	reset := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	writeJSON(w, http.StatusOK, map[string]any{
		"rateLimits": []map[string]any{{
			"apiContext": "buy",
			"apiName":    "browse",
			"apiVersion": "v1",
			"resources": []map[string]any{{
				"name": "buy.browse",
				"rates": []map[string]any{{
					"count":      used,
					"limit":      limit,
					"remaining":  max(limit-used, 0),
					"reset":      reset.Format(time.RFC3339),
					"timeWindow": 86400,
				}},
			}},
		}},
	})
}

func queryInt(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v >= 0 {
		return v
	}
	return def
}
