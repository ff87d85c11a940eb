package quilld

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quillcms/quilld/internal/content"
)

type listPostsInput struct {
	siteInput
}

type listPostsOutput struct {
	Posts []content.Post `json:"posts"`
}

func (s *server) handleListPosts(ctx context.Context, _ *mcpsdk.CallToolRequest, input listPostsInput) (*mcpsdk.CallToolResult, listPostsOutput, error) {
	posts, err := s.content.ListPosts(input.Site, false)
	if err != nil {
		return nil, listPostsOutput{}, err
	}
	return nil, listPostsOutput{Posts: posts}, nil
}

type getPostInput struct {
	siteInput
	ID int64 `json:"id" jsonschema:"Post id as returned by list_posts"`
}

type postOutput struct {
	Post content.Post `json:"post"`
}

func (s *server) handleGetPost(ctx context.Context, _ *mcpsdk.CallToolRequest, input getPostInput) (*mcpsdk.CallToolResult, postOutput, error) {
	post, err := s.content.GetPost(input.Site, input.ID, false)
	if err != nil {
		return nil, postOutput{}, err
	}
	return nil, postOutput{Post: post}, nil
}

type createPostInput struct {
	siteInput
	Title  string   `json:"title" jsonschema:"Post title; the slug derives from it"`
	Text   string   `json:"text,omitempty" jsonschema:"Body text, markdown or raw HTML (leading '<')"`
	Status string   `json:"status,omitempty" jsonschema:"published (default) or draft"`
	Tags   []string `json:"tags,omitempty" jsonschema:"Tag slugs; unknown tags are created"`
}

func (s *server) handleCreatePost(ctx context.Context, _ *mcpsdk.CallToolRequest, input createPostInput) (*mcpsdk.CallToolResult, postOutput, error) {
	post, err := s.content.CreatePost(input.Site, content.Post{
		Title:  input.Title,
		Text:   input.Text,
		Status: input.Status,
		Tags:   input.Tags,
	})
	if err != nil {
		return nil, postOutput{}, err
	}
	return nil, postOutput{Post: post}, nil
}

type updatePostInput struct {
	siteInput
	ID     int64    `json:"id" jsonschema:"Post id"`
	Title  string   `json:"title,omitempty" jsonschema:"New title; empty keeps the stored title"`
	Text   string   `json:"text,omitempty" jsonschema:"New body text; empty keeps the stored text"`
	Status string   `json:"status,omitempty" jsonschema:"New status; empty keeps the stored status"`
	Slug   string   `json:"slug,omitempty" jsonschema:"New slug; empty keeps the stored slug"`
	Tags   []string `json:"tags,omitempty" jsonschema:"Replacement tag set; omit to keep stored tags"`
}

func (s *server) handleUpdatePost(ctx context.Context, _ *mcpsdk.CallToolRequest, input updatePostInput) (*mcpsdk.CallToolResult, postOutput, error) {
	post, err := s.content.UpdatePost(input.Site, input.ID, content.Post{
		Title:  input.Title,
		Text:   input.Text,
		Status: input.Status,
		Slug:   input.Slug,
		Tags:   input.Tags,
	}, false)
	if err != nil {
		return nil, postOutput{}, err
	}
	return nil, postOutput{Post: post}, nil
}

type deletePostInput struct {
	siteInput
	ID int64 `json:"id" jsonschema:"Post id"`
}

type deletedOutput struct {
	Deleted bool   `json:"deleted"`
	Detail  string `json:"detail"`
}

func (s *server) handleDeletePost(ctx context.Context, _ *mcpsdk.CallToolRequest, input deletePostInput) (*mcpsdk.CallToolResult, deletedOutput, error) {
	if err := s.content.DeletePost(input.Site, input.ID, false); err != nil {
		return nil, deletedOutput{}, err
	}
	return nil, deletedOutput{Deleted: true, Detail: fmt.Sprintf("post %d deleted", input.ID)}, nil
}
