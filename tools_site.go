package quilld

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quillcms/quilld/internal/content"
)

type listSitesInput struct{}

type listSitesOutput struct {
	Sites []string `json:"sites"`
}

func (s *server) handleListSites(ctx context.Context, _ *mcpsdk.CallToolRequest, _ listSitesInput) (*mcpsdk.CallToolResult, listSitesOutput, error) {
	sites, err := s.content.ListSites()
	if err != nil {
		return nil, listSitesOutput{}, err
	}
	return nil, listSitesOutput{Sites: sites}, nil
}

type getSiteConfigInput struct {
	siteInput
}

type getSiteConfigOutput struct {
	Config content.SiteConfig `json:"config"`
}

func (s *server) handleGetSiteConfig(ctx context.Context, _ *mcpsdk.CallToolRequest, input getSiteConfigInput) (*mcpsdk.CallToolResult, getSiteConfigOutput, error) {
	cfg, err := s.content.ReadSiteConfig(input.Site)
	if err != nil {
		return nil, getSiteConfigOutput{}, err
	}
	return nil, getSiteConfigOutput{Config: cfg}, nil
}
