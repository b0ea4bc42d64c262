// Package toolserver exposes the product catalog and emission tables over
// MCP: four tools, two resources, and two prompt templates behind one
// streamable HTTP endpoint.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	logx "github.com/verdantlabs/greencart/pkg/logger"
)

const (
	ToolCatalogSearch     = "catalog.search"
	ToolCatalogGet        = "catalog.get"
	ToolEmissionsProduct  = "emissions.product"
	ToolEmissionsShipping = "emissions.shipping"

	ResourceCatalogURI         = "greencart://catalog"
	ResourceShippingMethodsURI = "greencart://shipping-methods"

	PromptRecommendProducts = "recommend_products"
	PromptCompareProducts   = "compare_products"
)

// Config for the tool endpoint.
type Config struct {
	Name    string `split_words:"true" default:"greencart-tools"`
	Version string `split_words:"true" default:"0.1.0"`
	Addr    string `split_words:"true" default:":8090"`
}

// Server owns the MCP server and the catalog behind it.
type Server struct {
	cfg     Config
	catalog *Catalog
	mcp     *server.MCPServer
	http    *server.StreamableHTTPServer
	log     zerolog.Logger
}

func NewServer(cfg Config) *Server {
	s := &Server{
		cfg:     cfg,
		catalog: NewCatalog(),
		log:     logx.Component("toolserver"),
	}

	s.mcp = server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// Start serves the MCP endpoint at addr until Shutdown. The JSON-RPC
// endpoint path is /mcp.
func (s *Server) Start() error {
	s.http = server.NewStreamableHTTPServer(s.mcp)
	s.log.Info().Str("addr", s.cfg.Addr).Msg("tool endpoint listening")
	return s.http.Start(s.cfg.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

/* --------------------------------- tools ---------------------------------- */

func (s *Server) registerTools() {
	searchTool := mcp.NewTool(ToolCatalogSearch,
		mcp.WithDescription("Search the product catalog by keywords; results include per-unit carbon footprints."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Free-text search terms, e.g. 'bamboo kitchen'"),
		),
		mcp.WithString("category",
			mcp.Description("Restrict results to one category, e.g. 'kitchen'"),
		),
		mcp.WithNumber("max_price",
			mcp.Description("Only return products at or under this price"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 5)"),
		),
	)
	s.mcp.AddTool(searchTool, s.handleCatalogSearch)

	getTool := mcp.NewTool(ToolCatalogGet,
		mcp.WithDescription("Fetch one catalog product by its ID."),
		mcp.WithString("product_id",
			mcp.Required(),
			mcp.Description("Catalog product ID, e.g. 'sku-sunglasses'"),
		),
	)
	s.mcp.AddTool(getTool, s.handleCatalogGet)

	productEmissionTool := mcp.NewTool(ToolEmissionsProduct,
		mcp.WithDescription("Compute the CO2e footprint of a product line: unit footprint times quantity."),
		mcp.WithString("product_id",
			mcp.Required(),
			mcp.Description("Catalog product ID"),
		),
		mcp.WithNumber("quantity",
			mcp.Description("Line quantity (default 1)"),
		),
	)
	s.mcp.AddTool(productEmissionTool, s.handleEmissionsProduct)

	shippingEmissionTool := mcp.NewTool(ToolEmissionsShipping,
		mcp.WithDescription("Look up the flat CO2e footprint of a shipping method."),
		mcp.WithString("method",
			mcp.Required(),
			mcp.Description("Shipping method name: eco, ground, express or overnight"),
		),
	)
	s.mcp.AddTool(shippingEmissionTool, s.handleEmissionsShipping)
}

func (s *Server) handleCatalogSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := request.GetInt("limit", 5)
	category := request.GetString("category", "")
	maxPrice := request.GetFloat("max_price", 0)

	// Rank against the whole catalog and filter before capping, so a
	// price cap cannot starve the result set.
	products := FilterProducts(s.catalog.Search(query, len(s.catalog.products)), category, maxPrice)
	if limit > 0 && len(products) > limit {
		products = products[:limit]
	}

	body, err := json.Marshal(products)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode results: %v", err)), nil
	}
	s.log.Debug().Str("query", query).Int("hits", len(products)).Msg("catalog search")
	return mcp.NewToolResultText(string(body)), nil
}

func (s *Server) handleCatalogGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("product_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, ok := s.catalog.Get(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("product not found: %s", id)), nil
	}
	body, err := json.Marshal(p)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode product: %v", err)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (s *Server) handleEmissionsProduct(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("product_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	quantity := request.GetInt("quantity", 1)

	emission, ok := s.catalog.Emission(id, quantity)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("product not found: %s", id)), nil
	}
	body, err := json.Marshal(emission)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode emission: %v", err)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (s *Server) handleEmissionsShipping(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("method")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	method, ok := ShippingFootprint(name)
	if !ok {
		known := make([]string, 0, len(shippingMethods))
		for _, m := range shippingMethods {
			known = append(known, m.Name)
		}
		return mcp.NewToolResultError(fmt.Sprintf("unknown shipping method %q (known: %s)", name, strings.Join(known, ", "))), nil
	}
	body, err := json.Marshal(method)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode method: %v", err)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

/* -------------------------------- resources ------------------------------- */

func (s *Server) registerResources() {
	catalogResource := mcp.NewResource(ResourceCatalogURI, "Product catalog",
		mcp.WithResourceDescription("Every product with price and per-unit carbon footprint."),
		mcp.WithMIMEType("application/json"),
	)
	s.mcp.AddResource(catalogResource, s.handleCatalogResource)

	shippingResource := mcp.NewResource(ResourceShippingMethodsURI, "Shipping methods",
		mcp.WithResourceDescription("Delivery options ordered by carbon footprint."),
		mcp.WithMIMEType("application/json"),
	)
	s.mcp.AddResource(shippingResource, s.handleShippingResource)
}

func (s *Server) handleCatalogResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	body, err := json.Marshal(s.catalog.All())
	if err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(body),
		},
	}, nil
}

func (s *Server) handleShippingResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	body, err := json.Marshal(ShippingMethods())
	if err != nil {
		return nil, fmt.Errorf("encode shipping methods: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(body),
		},
	}, nil
}

/* --------------------------------- prompts -------------------------------- */

func (s *Server) registerPrompts() {
	recommend := mcp.NewPrompt(PromptRecommendProducts,
		mcp.WithPromptDescription("Recommend low-footprint products for the shopper's criteria."),
		mcp.WithArgument("criteria",
			mcp.ArgumentDescription("What the shopper is looking for"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("budget",
			mcp.ArgumentDescription("Optional spending cap, e.g. '50'"),
		),
	)
	s.mcp.AddPrompt(recommend, s.handleRecommendPrompt)

	compare := mcp.NewPrompt(PromptCompareProducts,
		mcp.WithPromptDescription("Compare catalog products by price and carbon footprint."),
		mcp.WithArgument("product_ids",
			mcp.ArgumentDescription("Comma-separated catalog product IDs"),
			mcp.RequiredArgument(),
		),
	)
	s.mcp.AddPrompt(compare, s.handleComparePrompt)
}

func (s *Server) handleRecommendPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	criteria := strings.TrimSpace(request.Params.Arguments["criteria"])
	if criteria == "" {
		return nil, fmt.Errorf("missing required argument: criteria")
	}
	budget := strings.TrimSpace(request.Params.Arguments["budget"])

	var b strings.Builder
	fmt.Fprintf(&b, "You advise shoppers who want to cut the carbon footprint of their purchases.\n")
	fmt.Fprintf(&b, "The shopper is looking for: %s.\n", criteria)
	if budget != "" {
		fmt.Fprintf(&b, "Their budget is %s.\n", budget)
	}
	b.WriteString("Recommend up to three products from the catalog below, lowest footprint first, and say why each fits.\n\n")
	writeCatalogLines(&b, s.catalog.All())

	return mcp.NewGetPromptResult(
		"Product recommendation brief",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(b.String())),
		},
	), nil
}

func (s *Server) handleComparePrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	raw := strings.TrimSpace(request.Params.Arguments["product_ids"])
	if raw == "" {
		return nil, fmt.Errorf("missing required argument: product_ids")
	}

	var picked []Product
	var unknown []string
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if p, ok := s.catalog.Get(id); ok {
			picked = append(picked, p)
		} else {
			unknown = append(unknown, id)
		}
	}
	if len(picked) == 0 {
		return nil, fmt.Errorf("no known products among: %s", raw)
	}

	var b strings.Builder
	b.WriteString("Compare the following products for a shopper choosing by carbon footprint first, price second.\n")
	b.WriteString("Conclude with a single pick and one sentence of reasoning.\n\n")
	writeCatalogLines(&b, picked)
	if len(unknown) > 0 {
		fmt.Fprintf(&b, "\nIgnore these unknown IDs: %s.\n", strings.Join(unknown, ", "))
	}

	return mcp.NewGetPromptResult(
		"Product comparison brief",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(b.String())),
		},
	), nil
}

func writeCatalogLines(b *strings.Builder, products []Product) {
	for _, p := range products {
		fmt.Fprintf(b, "- %s (%s): $%.2f, %.1f kg CO2e", p.Name, p.ID, p.Price, p.FootprintKg)
		if len(p.Tags) > 0 {
			fmt.Fprintf(b, " [%s]", strings.Join(p.Tags, ", "))
		}
		b.WriteString("\n")
	}
}
