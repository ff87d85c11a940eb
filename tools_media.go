package quilld

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quillcms/quilld/internal/content"
)

type listMediaInput struct {
	siteInput
}

type listMediaOutput struct {
	Media []content.MediaInfo `json:"media"`
}

func (s *server) handleListMedia(ctx context.Context, _ *mcpsdk.CallToolRequest, input listMediaInput) (*mcpsdk.CallToolResult, listMediaOutput, error) {
	media, err := s.content.ListMedia(input.Site)
	if err != nil {
		return nil, listMediaOutput{}, err
	}
	return nil, listMediaOutput{Media: media}, nil
}

type uploadMediaInput struct {
	siteInput
	Path string `json:"path" jsonschema:"Local filesystem path of the file to upload"`
	Name string `json:"name,omitempty" jsonschema:"Stored base name; defaults to the source file name"`
}

type mediaOutput struct {
	Media content.MediaInfo `json:"media"`
}

func (s *server) uploadMedia(input uploadMediaInput, imageOnly bool) (mediaOutput, error) {
	source := strings.TrimSpace(input.Path)
	if source == "" {
		return mediaOutput{}, fmt.Errorf("path is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = filepath.Base(source)
	}
	info, err := s.content.UploadMedia(input.Site, source, name, imageOnly)
	if err != nil {
		return mediaOutput{}, err
	}
	return mediaOutput{Media: info}, nil
}

func (s *server) handleUploadImage(ctx context.Context, _ *mcpsdk.CallToolRequest, input uploadMediaInput) (*mcpsdk.CallToolResult, mediaOutput, error) {
	out, err := s.uploadMedia(input, true)
	if err != nil {
		return nil, mediaOutput{}, err
	}
	return nil, out, nil
}

func (s *server) handleUploadFile(ctx context.Context, _ *mcpsdk.CallToolRequest, input uploadMediaInput) (*mcpsdk.CallToolResult, mediaOutput, error) {
	out, err := s.uploadMedia(input, false)
	if err != nil {
		return nil, mediaOutput{}, err
	}
	return nil, out, nil
}

type deleteMediaInput struct {
	siteInput
	Name string `json:"name" jsonschema:"Stored media file name as returned by list_media"`
}

func (s *server) handleDeleteMedia(ctx context.Context, _ *mcpsdk.CallToolRequest, input deleteMediaInput) (*mcpsdk.CallToolResult, deletedOutput, error) {
	if err := s.content.DeleteMedia(input.Site, input.Name); err != nil {
		return nil, deletedOutput{}, err
	}
	return nil, deletedOutput{Deleted: true, Detail: fmt.Sprintf("media %q deleted", input.Name)}, nil
}

type getMediaInfoInput struct {
	siteInput
	Name string `json:"name" jsonschema:"Stored media file name as returned by list_media"`
}

func (s *server) handleGetMediaInfo(ctx context.Context, _ *mcpsdk.CallToolRequest, input getMediaInfoInput) (*mcpsdk.CallToolResult, mediaOutput, error) {
	info, err := s.content.GetMediaInfo(input.Site, input.Name)
	if err != nil {
		return nil, mediaOutput{}, err
	}
	return nil, mediaOutput{Media: info}, nil
}
