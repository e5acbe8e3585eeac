package mail

import (
	"context"
	"net/url"
	"strings"

	"github.com/teemow/mailgraph/internal/graph"
)

func (c *Client) folderPage(path string) string {
	q := query{}.
		set("includeHiddenFolders", "true").
		set("$select", folderFields).
		set("$top", itoa(c.pageSize))
	return c.endpoint(path, q)
}

func (c *Client) folders(ctx context.Context, rawURL string) ([]Folder, error) {
	raw, err := graph.Collect(ctx, graph.Iterate[remoteFolder](c.fetcher, rawURL, c.header), 0)
	if err != nil {
		return nil, err
	}
	out := make([]Folder, 0, len(raw))
	for _, f := range raw {
		out = append(out, f.shape())
	}
	return out, nil
}

// ListFolders returns the whole folder tree, hidden folders included, each
// parent followed by its descendants.
func (c *Client) ListFolders(ctx context.Context) ([]Folder, error) {
	top, err := c.folders(ctx, c.folderPage("/me/mailFolders"))
	if err != nil {
		return nil, err
	}
	return c.expand(ctx, top)
}

func (c *Client) expand(ctx context.Context, level []Folder) ([]Folder, error) {
	var out []Folder
	for _, f := range level {
		out = append(out, f)
		if f.ChildFolderCount == 0 {
			continue
		}
		children, err := c.folders(ctx, c.folderPage("/me/mailFolders/"+url.PathEscape(f.ID)+"/childFolders"))
		if err != nil {
			return nil, err
		}
		sub, err := c.expand(ctx, children)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

// SearchFolders lists saved search folders. When the well-known container
// cannot be read it falls back to folders whose name mentions both
// "search" and "folder", which may over- or under-match.
func (c *Client) SearchFolders(ctx context.Context) ([]Folder, error) {
	found, err := c.folders(ctx, c.folderPage("/me/mailFolders/searchfolders/childFolders"))
	if err == nil {
		return found, nil
	}

	all, listErr := c.ListFolders(ctx)
	if listErr != nil {
		return nil, listErr
	}
	var out []Folder
	for _, f := range all {
		name := strings.ToLower(f.DisplayName)
		if strings.Contains(name, "search") && strings.Contains(name, "folder") {
			out = append(out, f)
		}
	}
	return out, nil
}
