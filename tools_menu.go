package quilld

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quillcms/quilld/internal/content"
)

type getMenuInput struct {
	siteInput
}

type menuOutput struct {
	Items []content.MenuItem `json:"items"`
}

func (s *server) handleGetMenu(ctx context.Context, _ *mcpsdk.CallToolRequest, input getMenuInput) (*mcpsdk.CallToolResult, menuOutput, error) {
	menu, err := s.content.GetMenu(input.Site)
	if err != nil {
		return nil, menuOutput{}, err
	}
	return nil, menuOutput{Items: menu.Items}, nil
}

type setMenuInput struct {
	siteInput
	Items []content.MenuItem `json:"items" jsonschema:"Replacement menu items in display order"`
}

func (s *server) handleSetMenu(ctx context.Context, _ *mcpsdk.CallToolRequest, input setMenuInput) (*mcpsdk.CallToolResult, menuOutput, error) {
	if err := s.content.SetMenu(input.Site, content.Menu{Items: input.Items}); err != nil {
		return nil, menuOutput{}, err
	}
	return nil, menuOutput{Items: input.Items}, nil
}

type addMenuItemInput struct {
	siteInput
	Label string `json:"label" jsonschema:"Menu entry label"`
	Link  string `json:"link" jsonschema:"Menu entry target, a path or URL"`
}

func (s *server) handleAddMenuItem(ctx context.Context, _ *mcpsdk.CallToolRequest, input addMenuItemInput) (*mcpsdk.CallToolResult, menuOutput, error) {
	menu, err := s.content.AddMenuItem(input.Site, content.MenuItem{
		Label: input.Label,
		Link:  input.Link,
	})
	if err != nil {
		return nil, menuOutput{}, err
	}
	return nil, menuOutput{Items: menu.Items}, nil
}

type removeMenuItemInput struct {
	siteInput
	Label string `json:"label" jsonschema:"Label of the menu entry to remove"`
}

func (s *server) handleRemoveMenuItem(ctx context.Context, _ *mcpsdk.CallToolRequest, input removeMenuItemInput) (*mcpsdk.CallToolResult, menuOutput, error) {
	menu, err := s.content.RemoveMenuItem(input.Site, input.Label)
	if err != nil {
		return nil, menuOutput{}, err
	}
	return nil, menuOutput{Items: menu.Items}, nil
}

type clearMenuInput struct {
	siteInput
}

func (s *server) handleClearMenu(ctx context.Context, _ *mcpsdk.CallToolRequest, input clearMenuInput) (*mcpsdk.CallToolResult, menuOutput, error) {
	if err := s.content.ClearMenu(input.Site); err != nil {
		return nil, menuOutput{}, err
	}
	return nil, menuOutput{Items: nil}, nil
}
