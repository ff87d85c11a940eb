package quilld

import (
	"strings"
	"testing"
)

func TestBuildToolDescriptionsCoverage(t *testing.T) {
	t.Parallel()

	descriptions := buildToolDescriptions()
	if len(descriptions) != len(allToolNames) {
		t.Fatalf("expected %d tool descriptions, got %d", len(allToolNames), len(descriptions))
	}
	for _, name := range allToolNames {
		description, ok := descriptions[name]
		if !ok {
			t.Fatalf("missing description for %s", name)
		}
		if strings.TrimSpace(description) == "" {
			t.Fatalf("empty description for %s", name)
		}
	}
}

func TestBuildToolDescriptionsIncludeContractSections(t *testing.T) {
	t.Parallel()

	descriptions := buildToolDescriptions()
	required := []string{"Purpose:", "Use when:", "Requires:", "Effects:"}
	for _, name := range allToolNames {
		for _, marker := range required {
			if !strings.Contains(descriptions[name], marker) {
				t.Fatalf("description for %s missing marker %q: %q", name, marker, descriptions[name])
			}
		}
	}
}

func TestWriteToolDescriptionsMentionSerialization(t *testing.T) {
	t.Parallel()

	descriptions := buildToolDescriptions()
	for _, name := range allToolNames {
		serialized := strings.Contains(descriptions[name], "Serialized write")
		if IsWriteOperation(name) && !serialized {
			t.Fatalf("write tool %s does not announce serialization: %q", name, descriptions[name])
		}
		if !IsWriteOperation(name) && serialized {
			t.Fatalf("read tool %s claims serialization: %q", name, descriptions[name])
		}
	}
}

func TestIsWriteOperationClassification(t *testing.T) {
	t.Parallel()

	writes := []string{
		toolCreatePost, toolUpdatePost, toolDeletePost,
		toolCreatePage, toolUpdatePage, toolDeletePage,
		toolCreateTag, toolUpdateTag, toolDeleteTag,
		toolSetMenu, toolAddMenuItem, toolRemoveMenuItem, toolClearMenu,
		toolUploadImage, toolUploadFile, toolDeleteMedia,
		toolRenderSite, toolDeploySite,
	}
	reads := []string{
		toolListSites, toolGetSiteConfig,
		toolListPosts, toolGetPost,
		toolListPages, toolGetPage,
		toolListTags, toolGetTag,
		toolGetMenu, toolListMedia, toolGetMediaInfo,
		toolGetSyncStatus,
	}
	for _, name := range writes {
		if !IsWriteOperation(name) {
			t.Fatalf("%s should classify as a write", name)
		}
	}
	for _, name := range reads {
		if IsWriteOperation(name) {
			t.Fatalf("%s should classify as a read", name)
		}
	}
}
