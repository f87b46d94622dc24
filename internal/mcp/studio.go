package mcp

import (
	"context"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/sponsorlabs/placemint/internal/fault"
	"github.com/sponsorlabs/placemint/internal/model"
)

func (s *Server) registerStudioTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("collection_ensure",
			mcplib.WithDescription("Create the creative collection for the configured embedding model if it does not exist. Idempotent."),
		),
		s.handleCollectionEnsure,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("collection_info",
			mcplib.WithDescription("Report collection state: dimension, embedding model, schema version, point counts, status"),
		),
		s.handleCollectionInfo,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("campaigns_upsert_batch",
			mcplib.WithDescription("Upsert campaign definitions. Each campaign expands into creatives inheriting its targeting, policy, schedule, and budget."),
			mcplib.WithArray("campaigns", mcplib.Description("Campaign definitions"), mcplib.Required()),
		),
		s.handleUpsertBatch,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("creatives_get",
			mcplib.WithDescription("Fetch one creative's stored attributes"),
			mcplib.WithString("creative_id", mcplib.Description("Creative identifier"), mcplib.Required()),
		),
		s.handleCreativeGet,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("creatives_delete",
			mcplib.WithDescription("Remove one creative from the catalog"),
			mcplib.WithString("creative_id", mcplib.Description("Creative identifier"), mcplib.Required()),
		),
		s.handleCreativeDelete,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("campaigns_bulk_disable",
			mcplib.WithDescription("Disable every creative matching a flat attribute filter, e.g. {\"advertiser_id\": \"adv-1\"}. Returns the count disabled."),
			mcplib.WithObject("filter", mcplib.Description("Attribute equality filter; list values match any element"), mcplib.Required()),
		),
		s.handleBulkDisable,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("campaigns_report",
			mcplib.WithDescription("Delivery report for one campaign: impressions, spend, average score, top creatives"),
			mcplib.WithString("campaign_id", mcplib.Description("Campaign identifier"), mcplib.Required()),
			mcplib.WithString("since", mcplib.Description("Window start, RFC 3339")),
			mcplib.WithString("until", mcplib.Description("Window end, RFC 3339")),
		),
		s.handleReport,
	)
}

func (s *Server) handleCollectionEnsure(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if denied := s.requireStudio(); denied != nil {
		return denied, nil
	}
	res, err := s.ingest.EnsureCollection(ctx)
	if err != nil {
		return faultResult(err), nil
	}
	shaped, err := shapeEnsureResult(res)
	if err != nil {
		return faultResult(fault.Wrap(fault.Internal, "mcp: shape ensure result", err)), nil
	}
	return jsonResult(shaped)
}

func (s *Server) handleCollectionInfo(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if denied := s.requireStudio(); denied != nil {
		return denied, nil
	}
	info, err := s.ingest.CollectionInfo(ctx)
	if err != nil {
		return faultResult(err), nil
	}
	shaped, err := shapeCollectionInfo(info)
	if err != nil {
		return faultResult(fault.Wrap(fault.Internal, "mcp: shape collection info", err)), nil
	}
	return jsonResult(shaped)
}

func (s *Server) handleUpsertBatch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if denied := s.requireStudio(); denied != nil {
		return denied, nil
	}

	var args struct {
		Campaigns []model.Campaign `json:"campaigns"`
	}
	if err := request.BindArguments(&args); err != nil {
		return faultResult(fault.Wrap(fault.InvalidInput, "mcp: decode campaigns", err)), nil
	}
	if len(args.Campaigns) == 0 {
		return faultResult(fault.New(fault.InvalidInput, "mcp: campaigns must be a non-empty array")), nil
	}

	res, err := s.ingest.UpsertCampaigns(ctx, args.Campaigns)
	if err != nil {
		return faultResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleCreativeGet(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if denied := s.requireStudio(); denied != nil {
		return denied, nil
	}

	payload, err := s.ingest.GetCreative(ctx, request.GetString("creative_id", ""))
	if err != nil {
		return faultResult(err), nil
	}
	return jsonResult(shapeCreativePayload(payload))
}

func (s *Server) handleCreativeDelete(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if denied := s.requireStudio(); denied != nil {
		return denied, nil
	}

	creativeID := request.GetString("creative_id", "")
	if err := s.ingest.DeleteCreative(ctx, creativeID); err != nil {
		return faultResult(err), nil
	}
	return jsonResult(map[string]any{"deleted": creativeID})
}

func (s *Server) handleBulkDisable(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if denied := s.requireStudio(); denied != nil {
		return denied, nil
	}

	var args struct {
		Filter map[string]any `json:"filter"`
	}
	if err := request.BindArguments(&args); err != nil {
		return faultResult(fault.Wrap(fault.InvalidInput, "mcp: decode filter", err)), nil
	}

	count, err := s.ingest.BulkDisable(ctx, args.Filter)
	if err != nil {
		return faultResult(err), nil
	}
	return jsonResult(map[string]any{"disabled": count})
}

func (s *Server) handleReport(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if denied := s.requireStudio(); denied != nil {
		return denied, nil
	}
	if s.analytics == nil {
		return faultResult(fault.New(fault.Unavailable, "mcp: analytics store not configured")), nil
	}

	campaignID := request.GetString("campaign_id", "")
	if campaignID == "" {
		return faultResult(fault.New(fault.InvalidInput, "mcp: campaign_id is required")), nil
	}

	since, err := parseWindowBound(request.GetString("since", ""))
	if err != nil {
		return faultResult(fault.Wrap(fault.InvalidInput, "mcp: since", err)), nil
	}
	until, err := parseWindowBound(request.GetString("until", ""))
	if err != nil {
		return faultResult(fault.Wrap(fault.InvalidInput, "mcp: until", err)), nil
	}

	report, err := s.analytics.CampaignReport(ctx, campaignID, since, until)
	if err != nil {
		return faultResult(err), nil
	}
	return jsonResult(report)
}

func parseWindowBound(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	u := t.UTC()
	return &u, nil
}
