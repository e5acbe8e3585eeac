package mail

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/teemow/mailgraph/internal/logging"
)

// crawlConcurrency bounds parallel sender crawls.
const crawlConcurrency = 4

// FromAddresses crawls each address and merges the results: concatenated
// in address order, deduplicated by id (first wins) and sorted newest
// first. perSender bounds each crawl.
func (c *Client) FromAddresses(ctx context.Context, addrs []string, perSender int) ([]Message, error) {
	results := make([][]Message, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(crawlConcurrency)
	for i, addr := range addrs {
		g.Go(func() error {
			msgs, err := c.FromAddress(gctx, addr, perSender)
			if err != nil {
				return err
			}
			c.logger.DebugContext(gctx, "sender crawled",
				logging.UserHash(addr),
				slog.Int("messages", len(msgs)))
			results[i] = msgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []Message
	for _, r := range results {
		merged = append(merged, r...)
	}
	merged = Dedupe(merged)
	SortByReceived(merged)
	return merged, nil
}

// FromName finds mail from a sender known only by name. It samples a
// "from:<name>" search of up to sample hits, collects the distinct sender
// addresses seen, then crawls each address. Senders whose address does
// not appear in the sample are missed.
func (c *Client) FromName(ctx context.Context, name string, sample, perSender int) ([]Message, []string, error) {
	hits, err := c.Search(ctx, "from:"+name, sample)
	if err != nil {
		return nil, nil, err
	}
	addrs := distinctSenders(hits)
	c.logger.DebugContext(ctx, "sender sample resolved",
		slog.Int("sampled", len(hits)),
		slog.Int("senders", len(addrs)))
	if len(addrs) == 0 {
		return []Message{}, addrs, nil
	}
	msgs, err := c.FromAddresses(ctx, addrs, perSender)
	if err != nil {
		return nil, nil, err
	}
	return msgs, addrs, nil
}

// distinctSenders returns lowercase sender addresses in order of first
// appearance.
func distinctSenders(msgs []Message) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range msgs {
		addr := strings.ToLower(strings.TrimSpace(m.From))
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
