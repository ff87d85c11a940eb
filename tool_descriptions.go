package quilld

import "strings"

var allToolNames = []string{
	toolListSites,
	toolGetSiteConfig,
	toolListPosts,
	toolGetPost,
	toolCreatePost,
	toolUpdatePost,
	toolDeletePost,
	toolListPages,
	toolGetPage,
	toolCreatePage,
	toolUpdatePage,
	toolDeletePage,
	toolListTags,
	toolGetTag,
	toolCreateTag,
	toolUpdateTag,
	toolDeleteTag,
	toolGetMenu,
	toolSetMenu,
	toolAddMenuItem,
	toolRemoveMenuItem,
	toolClearMenu,
	toolListMedia,
	toolUploadImage,
	toolUploadFile,
	toolDeleteMedia,
	toolGetMediaInfo,
	toolRenderSite,
	toolDeploySite,
	toolGetSyncStatus,
}

type toolContract struct {
	Purpose  string
	UseWhen  string
	Requires string
	Effects  string
}

const (
	readOnlyEffects   = "Read-only; runs without the site write lock."
	serializedEffects = "Serialized write; holds the advisory site write lock until the call settles."
	workerEffects     = "Serialized write; spawns a supervised worker process and streams progress notifications."
	requiresSite      = "`site` must name an existing site directory."
)

func formatToolDescription(spec toolContract) string {
	lines := []string{
		"Purpose: " + spec.Purpose,
		"Use when: " + spec.UseWhen,
		"Requires: " + spec.Requires,
		"Effects: " + spec.Effects,
	}
	return strings.Join(lines, "\n")
}

func buildToolDescriptions() map[string]string {
	return map[string]string{
		toolListSites: formatToolDescription(toolContract{
			Purpose:  "List the sites managed under the configured sites directory.",
			UseWhen:  "You need to discover site names before calling any site-scoped tool.",
			Requires: "Nothing.",
			Effects:  readOnlyEffects,
		}),
		toolGetSiteConfig: formatToolDescription(toolContract{
			Purpose:  "Return one site's configuration: display name, author, domain, deployment protocol.",
			UseWhen:  "You need site metadata or want to check how the site deploys.",
			Requires: requiresSite,
			Effects:  readOnlyEffects,
		}),
		toolListPosts: formatToolDescription(toolContract{
			Purpose:  "List a site's posts, newest first, including drafts.",
			UseWhen:  "You need post ids or an overview of published and draft content.",
			Requires: requiresSite,
			Effects:  readOnlyEffects,
		}),
		toolGetPost: formatToolDescription(toolContract{
			Purpose:  "Fetch one post by id, including body text and tag slugs.",
			UseWhen:  "You need the full text of a specific post before editing it.",
			Requires: requiresSite + " `id` must reference an existing post.",
			Effects:  readOnlyEffects,
		}),
		toolCreatePost: formatToolDescription(toolContract{
			Purpose:  "Create a post. The slug derives from the title and is made unique automatically.",
			UseWhen:  "You are adding new content. Body text may be markdown or raw HTML (leading '<').",
			Requires: requiresSite + " `title` is required; `status` defaults to published.",
			Effects:  serializedEffects,
		}),
		toolUpdatePost: formatToolDescription(toolContract{
			Purpose:  "Update fields of an existing post; omitted fields keep their stored values.",
			UseWhen:  "You are editing content, changing status, or replacing the tag set.",
			Requires: requiresSite + " `id` must reference an existing post.",
			Effects:  serializedEffects,
		}),
		toolDeletePost: formatToolDescription(toolContract{
			Purpose:  "Delete a post and its tag associations.",
			UseWhen:  "Content should be removed permanently. There is no trash.",
			Requires: requiresSite + " `id` must reference an existing post.",
			Effects:  serializedEffects,
		}),
		toolListPages: formatToolDescription(toolContract{
			Purpose:  "List a site's pages (static documents outside the post stream).",
			UseWhen:  "You need page ids, for example to link pages from the menu.",
			Requires: requiresSite,
			Effects:  readOnlyEffects,
		}),
		toolGetPage: formatToolDescription(toolContract{
			Purpose:  "Fetch one page by id, including body text.",
			UseWhen:  "You need the full text of a specific page before editing it.",
			Requires: requiresSite + " `id` must reference an existing page.",
			Effects:  readOnlyEffects,
		}),
		toolCreatePage: formatToolDescription(toolContract{
			Purpose:  "Create a page. Pages share slug rules with posts but never appear in the post index.",
			UseWhen:  "You are adding standalone content such as an about or contact page.",
			Requires: requiresSite + " `title` is required.",
			Effects:  serializedEffects,
		}),
		toolUpdatePage: formatToolDescription(toolContract{
			Purpose:  "Update fields of an existing page; omitted fields keep their stored values.",
			UseWhen:  "You are editing standalone page content.",
			Requires: requiresSite + " `id` must reference an existing page.",
			Effects:  serializedEffects,
		}),
		toolDeletePage: formatToolDescription(toolContract{
			Purpose:  "Delete a page.",
			UseWhen:  "A standalone page should be removed permanently.",
			Requires: requiresSite + " `id` must reference an existing page.",
			Effects:  serializedEffects,
		}),
		toolListTags: formatToolDescription(toolContract{
			Purpose:  "List a site's tags with per-tag post counts.",
			UseWhen:  "You need tag slugs or want to see which tags are in use.",
			Requires: requiresSite,
			Effects:  readOnlyEffects,
		}),
		toolGetTag: formatToolDescription(toolContract{
			Purpose:  "Fetch one tag by id.",
			UseWhen:  "You need a tag's name, slug, or description.",
			Requires: requiresSite + " `id` must reference an existing tag.",
			Effects:  readOnlyEffects,
		}),
		toolCreateTag: formatToolDescription(toolContract{
			Purpose:  "Create a tag. Tags are also created implicitly when posts name unknown tag slugs.",
			UseWhen:  "You want a tag with a description before attaching it to posts.",
			Requires: requiresSite + " `name` is required.",
			Effects:  serializedEffects,
		}),
		toolUpdateTag: formatToolDescription(toolContract{
			Purpose:  "Update a tag's name, slug, or description.",
			UseWhen:  "You are renaming or documenting an existing tag.",
			Requires: requiresSite + " `id` must reference an existing tag.",
			Effects:  serializedEffects,
		}),
		toolDeleteTag: formatToolDescription(toolContract{
			Purpose:  "Delete a tag and detach it from all posts.",
			UseWhen:  "A tag is obsolete. Posts keep their other tags.",
			Requires: requiresSite + " `id` must reference an existing tag.",
			Effects:  serializedEffects,
		}),
		toolGetMenu: formatToolDescription(toolContract{
			Purpose:  "Return the site's navigation menu items in order.",
			UseWhen:  "You need the current menu before changing it.",
			Requires: requiresSite,
			Effects:  readOnlyEffects,
		}),
		toolSetMenu: formatToolDescription(toolContract{
			Purpose:  "Replace the whole navigation menu with the supplied items.",
			UseWhen:  "You are restructuring navigation; for single additions prefer add_menu_item.",
			Requires: requiresSite + " Every item needs a non-empty label.",
			Effects:  serializedEffects,
		}),
		toolAddMenuItem: formatToolDescription(toolContract{
			Purpose:  "Append one item to the navigation menu.",
			UseWhen:  "You are linking a new page or external URL from the menu.",
			Requires: requiresSite + " `label` and `link` are required.",
			Effects:  serializedEffects,
		}),
		toolRemoveMenuItem: formatToolDescription(toolContract{
			Purpose:  "Remove the first menu item matching the supplied label.",
			UseWhen:  "A menu entry is obsolete.",
			Requires: requiresSite + " `label` must match an existing item.",
			Effects:  serializedEffects,
		}),
		toolClearMenu: formatToolDescription(toolContract{
			Purpose:  "Remove all navigation menu items.",
			UseWhen:  "You are rebuilding navigation from scratch.",
			Requires: requiresSite,
			Effects:  serializedEffects,
		}),
		toolListMedia: formatToolDescription(toolContract{
			Purpose:  "List the site's media files with sizes and modification times.",
			UseWhen:  "You need stored media names to reference from content or to delete.",
			Requires: requiresSite,
			Effects:  readOnlyEffects,
		}),
		toolUploadImage: formatToolDescription(toolContract{
			Purpose:  "Copy an image from a local path into the site's media store under a unique name.",
			UseWhen:  "You are adding an image; non-image files are rejected, use upload_file instead.",
			Requires: requiresSite + " `path` must point at a readable image file.",
			Effects:  serializedEffects,
		}),
		toolUploadFile: formatToolDescription(toolContract{
			Purpose:  "Copy any file from a local path into the site's media store under a unique name.",
			UseWhen:  "You are adding a non-image asset such as a PDF or archive.",
			Requires: requiresSite + " `path` must point at a readable file.",
			Effects:  serializedEffects,
		}),
		toolDeleteMedia: formatToolDescription(toolContract{
			Purpose:  "Delete one stored media file by name.",
			UseWhen:  "An asset is no longer referenced. Content referencing it is not checked.",
			Requires: requiresSite + " `name` must match a stored media file.",
			Effects:  serializedEffects,
		}),
		toolGetMediaInfo: formatToolDescription(toolContract{
			Purpose:  "Return size, modification time, and image classification for one media file.",
			UseWhen:  "You need details about a stored asset.",
			Requires: requiresSite + " `name` must match a stored media file.",
			Effects:  readOnlyEffects,
		}),
		toolRenderSite: formatToolDescription(toolContract{
			Purpose:  "Render the site's HTML output tree from its content database.",
			UseWhen:  "Content changed and the output should be regenerated before deploying.",
			Requires: requiresSite,
			Effects:  workerEffects,
		}),
		toolDeploySite: formatToolDescription(toolContract{
			Purpose:  "Upload the rendered output tree to the site's configured deployment target.",
			UseWhen:  "The site has been rendered and should go live.",
			Requires: requiresSite + " The site must have been rendered at least once.",
			Effects:  workerEffects,
		}),
		toolGetSyncStatus: formatToolDescription(toolContract{
			Purpose:  "Report whether the deployed site is in sync with local content and the last deploy outcome.",
			UseWhen:  "You want to know if a render or deploy is pending.",
			Requires: requiresSite,
			Effects:  readOnlyEffects,
		}),
	}
}
