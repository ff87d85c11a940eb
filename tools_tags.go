package quilld

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quillcms/quilld/internal/content"
)

type listTagsInput struct {
	siteInput
}

type listTagsOutput struct {
	Tags []content.Tag `json:"tags"`
}

func (s *server) handleListTags(ctx context.Context, _ *mcpsdk.CallToolRequest, input listTagsInput) (*mcpsdk.CallToolResult, listTagsOutput, error) {
	tags, err := s.content.ListTags(input.Site)
	if err != nil {
		return nil, listTagsOutput{}, err
	}
	return nil, listTagsOutput{Tags: tags}, nil
}

type getTagInput struct {
	siteInput
	ID int64 `json:"id" jsonschema:"Tag id as returned by list_tags"`
}

type tagOutput struct {
	Tag content.Tag `json:"tag"`
}

func (s *server) handleGetTag(ctx context.Context, _ *mcpsdk.CallToolRequest, input getTagInput) (*mcpsdk.CallToolResult, tagOutput, error) {
	tag, err := s.content.GetTag(input.Site, input.ID)
	if err != nil {
		return nil, tagOutput{}, err
	}
	return nil, tagOutput{Tag: tag}, nil
}

type createTagInput struct {
	siteInput
	Name        string `json:"name" jsonschema:"Tag display name; the slug derives from it"`
	Description string `json:"description,omitempty" jsonschema:"Optional tag description"`
}

func (s *server) handleCreateTag(ctx context.Context, _ *mcpsdk.CallToolRequest, input createTagInput) (*mcpsdk.CallToolResult, tagOutput, error) {
	tag, err := s.content.CreateTag(input.Site, content.Tag{
		Name:        input.Name,
		Description: input.Description,
	})
	if err != nil {
		return nil, tagOutput{}, err
	}
	return nil, tagOutput{Tag: tag}, nil
}

type updateTagInput struct {
	siteInput
	ID          int64  `json:"id" jsonschema:"Tag id"`
	Name        string `json:"name,omitempty" jsonschema:"New name; empty keeps the stored name"`
	Slug        string `json:"slug,omitempty" jsonschema:"New slug; empty keeps the stored slug"`
	Description string `json:"description,omitempty" jsonschema:"New description; empty keeps the stored description"`
}

func (s *server) handleUpdateTag(ctx context.Context, _ *mcpsdk.CallToolRequest, input updateTagInput) (*mcpsdk.CallToolResult, tagOutput, error) {
	tag, err := s.content.UpdateTag(input.Site, input.ID, content.Tag{
		Name:        input.Name,
		Slug:        input.Slug,
		Description: input.Description,
	})
	if err != nil {
		return nil, tagOutput{}, err
	}
	return nil, tagOutput{Tag: tag}, nil
}

type deleteTagInput struct {
	siteInput
	ID int64 `json:"id" jsonschema:"Tag id"`
}

func (s *server) handleDeleteTag(ctx context.Context, _ *mcpsdk.CallToolRequest, input deleteTagInput) (*mcpsdk.CallToolResult, deletedOutput, error) {
	if err := s.content.DeleteTag(input.Site, input.ID); err != nil {
		return nil, deletedOutput{}, err
	}
	return nil, deletedOutput{Deleted: true, Detail: fmt.Sprintf("tag %d deleted", input.ID)}, nil
}
