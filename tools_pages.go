package quilld

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quillcms/quilld/internal/content"
)

// Pages reuse the post storage with the page flag; the tool surface keeps
// them apart so a page id never resolves through a post tool.

type listPagesInput struct {
	siteInput
}

type listPagesOutput struct {
	Pages []content.Post `json:"pages"`
}

func (s *server) handleListPages(ctx context.Context, _ *mcpsdk.CallToolRequest, input listPagesInput) (*mcpsdk.CallToolResult, listPagesOutput, error) {
	pages, err := s.content.ListPosts(input.Site, true)
	if err != nil {
		return nil, listPagesOutput{}, err
	}
	return nil, listPagesOutput{Pages: pages}, nil
}

type getPageInput struct {
	siteInput
	ID int64 `json:"id" jsonschema:"Page id as returned by list_pages"`
}

type pageOutput struct {
	Page content.Post `json:"page"`
}

func (s *server) handleGetPage(ctx context.Context, _ *mcpsdk.CallToolRequest, input getPageInput) (*mcpsdk.CallToolResult, pageOutput, error) {
	page, err := s.content.GetPost(input.Site, input.ID, true)
	if err != nil {
		return nil, pageOutput{}, err
	}
	return nil, pageOutput{Page: page}, nil
}

type createPageInput struct {
	siteInput
	Title  string `json:"title" jsonschema:"Page title; the slug derives from it"`
	Text   string `json:"text,omitempty" jsonschema:"Body text, markdown or raw HTML (leading '<')"`
	Status string `json:"status,omitempty" jsonschema:"published (default) or draft"`
}

func (s *server) handleCreatePage(ctx context.Context, _ *mcpsdk.CallToolRequest, input createPageInput) (*mcpsdk.CallToolResult, pageOutput, error) {
	page, err := s.content.CreatePost(input.Site, content.Post{
		Title:  input.Title,
		Text:   input.Text,
		Status: input.Status,
		IsPage: true,
	})
	if err != nil {
		return nil, pageOutput{}, err
	}
	return nil, pageOutput{Page: page}, nil
}

type updatePageInput struct {
	siteInput
	ID     int64  `json:"id" jsonschema:"Page id"`
	Title  string `json:"title,omitempty" jsonschema:"New title; empty keeps the stored title"`
	Text   string `json:"text,omitempty" jsonschema:"New body text; empty keeps the stored text"`
	Status string `json:"status,omitempty" jsonschema:"New status; empty keeps the stored status"`
	Slug   string `json:"slug,omitempty" jsonschema:"New slug; empty keeps the stored slug"`
}

func (s *server) handleUpdatePage(ctx context.Context, _ *mcpsdk.CallToolRequest, input updatePageInput) (*mcpsdk.CallToolResult, pageOutput, error) {
	page, err := s.content.UpdatePost(input.Site, input.ID, content.Post{
		Title:  input.Title,
		Text:   input.Text,
		Status: input.Status,
		Slug:   input.Slug,
	}, true)
	if err != nil {
		return nil, pageOutput{}, err
	}
	return nil, pageOutput{Page: page}, nil
}

type deletePageInput struct {
	siteInput
	ID int64 `json:"id" jsonschema:"Page id"`
}

func (s *server) handleDeletePage(ctx context.Context, _ *mcpsdk.CallToolRequest, input deletePageInput) (*mcpsdk.CallToolResult, deletedOutput, error) {
	if err := s.content.DeletePost(input.Site, input.ID, true); err != nil {
		return nil, deletedOutput{}, err
	}
	return nil, deletedOutput{Deleted: true, Detail: fmt.Sprintf("page %d deleted", input.ID)}, nil
}
