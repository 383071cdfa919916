// Package mcpserver registers MCP tools that expose the eBay API callers.
// It adapts the ebay package to the MCP SDK's tool handler interface and
// turns every failure into a structured error result.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
	"github.com/donaldgifford/ebay-mcp/internal/metrics"
	"github.com/donaldgifford/ebay-mcp/internal/status"
	"github.com/donaldgifford/ebay-mcp/pkg/logger"
)

// Name is the implementation name advertised to MCP clients.
const Name = "ebay-mcp"

// Reporter produces the combined component status.
type Reporter interface {
	Report() status.Report
}

// Deps are the callers the tools dispatch to. A nil caller leaves its tools
// unregistered.
type Deps struct {
	Browse      *ebay.BrowseClient
	Taxonomy    *ebay.TaxonomyClient
	Account     *ebay.AccountClient
	Inventory   *ebay.InventoryClient
	Analytics   *ebay.AnalyticsClient
	Consent     *ebay.ConsentFlow
	Status      Reporter
	Marketplace string
	Logger      *slog.Logger
}

// NewServer creates an MCP server with every available tool registered.
func NewServer(version string, d *Deps) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: Name, Version: version},
		&mcp.ServerOptions{
			Instructions: "Tools for the eBay Buy, Sell and Commerce REST APIs. " +
				"Seller tools need user consent: call check_user_consent_status, then " +
				"initiate_user_consent and complete_user_consent when it is missing.",
		},
	)
	RegisterTools(server, d)
	return server
}

// RegisterTools adds the tools backed by d to server.
func RegisterTools(server *mcp.Server, d *Deps) {
	log := d.Logger
	if log == nil {
		log = logger.Discard()
	}
	r := &registrar{server: server, log: log}

	if d.Browse != nil {
		registerBrowseTools(r, d.Browse)
	}
	if d.Taxonomy != nil {
		registerTaxonomyTools(r, d.Taxonomy, d.Marketplace)
	}
	if d.Account != nil {
		registerAccountTools(r, d.Account, d.Marketplace)
	}
	if d.Inventory != nil {
		registerInventoryTools(r, d.Inventory)
	}
	if d.Analytics != nil {
		registerAnalyticsTools(r, d.Analytics)
	}
	if d.Consent != nil {
		registerConsentTools(r, d.Consent)
	}
	if d.Status != nil {
		registerStatusTools(r, d.Status)
	}
}

type registrar struct {
	server *mcp.Server
	log    *slog.Logger
}

// add registers a tool whose handler returns a plain value or an error.
// Values become JSON text; errors become an IsError result carrying the
// classified failure.
func add[In any](r *registrar, tool *mcp.Tool, fn func(ctx context.Context, in In) (any, error)) {
	name := tool.Name
	log := r.log
	mcp.AddTool(r.server, tool, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		start := time.Now()
		out, err := fn(ctx, in)
		metrics.ToolCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		if err != nil {
			f := ebay.Classify(err)
			metrics.ToolCallsTotal.WithLabelValues(name, string(f.Kind)).Inc()
			log.Warn("tool call failed",
				"tool", name,
				"kind", f.Kind,
				"retryable", f.Retryable,
				"error", err,
			)
			return failureResult(f), nil, nil
		}

		metrics.ToolCallsTotal.WithLabelValues(name, "ok").Inc()
		log.Debug("tool call", "tool", name, "duration_ms", time.Since(start).Milliseconds())
		return textResult(out), nil, nil
	})
}

// textResult builds a CallToolResult with JSON text content from any value.
func textResult(v any) *mcp.CallToolResult {
	var (
		data []byte
		err  error
	)
	if raw, ok := v.(json.RawMessage); ok {
		data = raw
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// failureResult is an error result whose text is the failure as JSON, so a
// model can read the kind, guidance and retry hints.
func failureResult(f ebay.Failure) *mcp.CallToolResult {
	data, err := json.MarshalIndent(map[string]ebay.Failure{"error": f}, "", "  ")
	if err != nil {
		data = []byte(f.Message)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}
}
