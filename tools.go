package quilld

import "strings"

// Tool names exposed by the quilld MCP server. The catalog is fixed; the
// server never registers tools dynamically.
const (
	toolListSites     = "list_sites"
	toolGetSiteConfig = "get_site_config"

	toolListPosts  = "list_posts"
	toolGetPost    = "get_post"
	toolCreatePost = "create_post"
	toolUpdatePost = "update_post"
	toolDeletePost = "delete_post"

	toolListPages  = "list_pages"
	toolGetPage    = "get_page"
	toolCreatePage = "create_page"
	toolUpdatePage = "update_page"
	toolDeletePage = "delete_page"

	toolListTags  = "list_tags"
	toolGetTag    = "get_tag"
	toolCreateTag = "create_tag"
	toolUpdateTag = "update_tag"
	toolDeleteTag = "delete_tag"

	toolGetMenu        = "get_menu"
	toolSetMenu        = "set_menu"
	toolAddMenuItem    = "add_menu_item"
	toolRemoveMenuItem = "remove_menu_item"
	toolClearMenu      = "clear_menu"

	toolListMedia    = "list_media"
	toolUploadImage  = "upload_image"
	toolUploadFile   = "upload_file"
	toolDeleteMedia  = "delete_media"
	toolGetMediaInfo = "get_media_info"

	toolRenderSite    = "render_site"
	toolDeploySite    = "deploy_site"
	toolGetSyncStatus = "get_sync_status"
)

// writeTools names the non-prefixed tools that mutate site state.
var writeTools = map[string]bool{
	toolSetMenu:        true,
	toolAddMenuItem:    true,
	toolRemoveMenuItem: true,
	toolClearMenu:      true,
	toolRenderSite:     true,
	toolDeploySite:     true,
}

// IsWriteOperation reports whether a tool call mutates site state and
// therefore must hold the advisory write lock while it runs. Mutating tools
// carry a create_/update_/delete_/upload_ prefix; the remainder are matched
// by name.
func IsWriteOperation(tool string) bool {
	if strings.HasPrefix(tool, "list_") {
		return false
	}
	for _, prefix := range []string{"create_", "update_", "delete_", "upload_"} {
		if strings.HasPrefix(tool, prefix) {
			return true
		}
	}
	return writeTools[tool]
}
