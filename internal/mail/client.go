package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teemow/mailgraph/internal/graph"
)

// DefaultBaseURL is the Graph v1.0 root.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// DefaultPageSize is the largest $top requested per page.
const DefaultPageSize = 100

var (
	// ErrFolderNotFound is returned by FolderByName when no folder has
	// the requested display name.
	ErrFolderNotFound = errors.New("mail: folder not found")

	// ErrInvalidRange is returned by DateRange when from is not before to.
	ErrInvalidRange = errors.New("mail: range start must be before its end")
)

// Client runs mailbox queries for one access token.
type Client struct {
	fetcher  *graph.Fetcher
	header   http.Header
	baseURL  string
	pageSize int
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another Graph root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithPageSize sets the maximum $top.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithLogger sets the logger. Sender addresses are logged hashed.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient returns a Client sending accessToken as a bearer credential.
func NewClient(f *graph.Fetcher, accessToken string, opts ...Option) *Client {
	c := &Client{
		fetcher:  f,
		header:   http.Header{"Authorization": {"Bearer " + accessToken}},
		baseURL:  DefaultBaseURL,
		pageSize: DefaultPageSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) top(bound int) int {
	if bound <= 0 || bound > c.pageSize {
		return c.pageSize
	}
	return bound
}

func (c *Client) endpoint(path string, q query) string {
	return c.baseURL + path + "?" + q.encode()
}

// messages drains up to bound messages from the collection at rawURL.
// A bound <= 0 means no limit.
func (c *Client) messages(ctx context.Context, rawURL string, bound int) ([]Message, error) {
	it := graph.Iterate[remoteMessage](c.fetcher, rawURL, c.header)
	raw, err := graph.Collect(ctx, it, bound)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(raw))
	for _, m := range raw {
		out = append(out, m.shape())
	}
	return out, nil
}

func (c *Client) listing(path, orderBy string, bound int) string {
	q := query{}.
		set("$select", messageFields).
		set("$orderby", orderBy).
		set("$top", itoa(c.top(bound)))
	return c.endpoint(path, q)
}

// Latest returns the newest n inbox messages.
func (c *Client) Latest(ctx context.Context, n int) ([]Message, error) {
	return c.messages(ctx, c.listing("/me/mailFolders/inbox/messages", "receivedDateTime desc", n), n)
}

// SentLatest returns the newest n sent messages, ordered by send time.
func (c *Client) SentLatest(ctx context.Context, n int) ([]Message, error) {
	return c.messages(ctx, c.listing("/me/mailFolders/sentitems/messages", "sentDateTime desc", n), n)
}

// ScanMailbox walks every folder's messages, newest first.
func (c *Client) ScanMailbox(ctx context.Context, limit int) ([]Message, error) {
	return c.messages(ctx, c.listing("/me/messages", "receivedDateTime desc", limit), limit)
}

// FolderByID returns messages of one folder, newest first.
func (c *Client) FolderByID(ctx context.Context, id string, limit int) ([]Message, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrFolderNotFound)
	}
	path := "/me/mailFolders/" + url.PathEscape(id) + "/messages"
	return c.messages(ctx, c.listing(path, "receivedDateTime desc", limit), limit)
}

// FolderByName resolves a display name (case-insensitive, first match in
// folder tree order) and returns that folder's messages.
func (c *Client) FolderByName(ctx context.Context, name string, limit int) ([]Message, error) {
	folders, err := c.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		if strings.EqualFold(f.DisplayName, name) {
			return c.FolderByID(ctx, f.ID, limit)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrFolderNotFound, name)
}

// Search runs a keyword search across all folders. A limit <= 0 reads
// every result page.
func (c *Client) Search(ctx context.Context, keywords string, limit int) ([]Message, error) {
	q := query{}.
		set("$search", quoteSearch(keywords)).
		set("$select", messageFields).
		set("$top", itoa(c.top(limit)))
	msgs, err := c.messages(ctx, c.endpoint("/me/messages", q), limit)
	if err != nil {
		return nil, err
	}
	SortByReceived(msgs)
	return msgs, nil
}

// DateRange returns messages received in [from, to).
func (c *Client) DateRange(ctx context.Context, from, to time.Time, limit int) ([]Message, error) {
	if !from.Before(to) {
		return nil, ErrInvalidRange
	}
	filter := fmt.Sprintf("receivedDateTime ge %s and receivedDateTime lt %s", formatTime(from), formatTime(to))
	q := query{}.
		set("$filter", filter).
		set("$select", messageFields).
		set("$orderby", "receivedDateTime desc").
		set("$top", itoa(c.top(limit)))
	msgs, err := c.messages(ctx, c.endpoint("/me/messages", q), limit)
	if err != nil {
		return nil, err
	}
	SortByReceived(msgs)
	return msgs, nil
}

// FromAddress returns messages sent by exactly addr.
func (c *Client) FromAddress(ctx context.Context, addr string, limit int) ([]Message, error) {
	filter := fmt.Sprintf("receivedDateTime ge %s and from/emailAddress/address eq %s", epoch, quoteLiteral(addr))
	q := query{}.
		set("$filter", filter).
		set("$select", messageFields).
		set("$orderby", "receivedDateTime desc").
		set("$top", itoa(c.top(limit)))
	msgs, err := c.messages(ctx, c.endpoint("/me/messages", q), limit)
	if err != nil {
		return nil, err
	}
	SortByReceived(msgs)
	return msgs, nil
}
