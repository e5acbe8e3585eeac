package mail_tools

import (
	"context"
	"errors"
	"time"

	"github.com/teemow/mailgraph/internal/instrumentation"
	"github.com/teemow/mailgraph/internal/mail"
	"github.com/teemow/mailgraph/internal/tools/common"
)

// Bounds applied to caller-supplied counts.
const (
	defaultLatest   = 10
	defaultFolder   = 25
	defaultSearch   = 25
	defaultScan     = 100
	defaultRange    = 100
	defaultSample   = 25
	defaultPerEmail = 100
	maxBound        = 1000
	maxScan         = 10000
)

// MessagesResult is the result value of message actions.
type MessagesResult struct {
	Count    int            `json:"count"`
	Messages []mail.Message `json:"messages"`
	// Senders lists the addresses crawled by from_name.
	Senders []string `json:"senders,omitempty"`
}

// FoldersResult is the result value of folder actions.
type FoldersResult struct {
	Count   int           `json:"count"`
	Folders []mail.Folder `json:"folders"`
}

func messages(msgs []mail.Message) common.Result {
	if msgs == nil {
		msgs = []mail.Message{}
	}
	return common.Result{Count: len(msgs), Value: MessagesResult{Count: len(msgs), Messages: msgs}}
}

func folders(fs []mail.Folder) common.Result {
	if fs == nil {
		fs = []mail.Folder{}
	}
	return common.Result{Count: len(fs), Value: FoldersResult{Count: len(fs), Folders: fs}}
}

func countParam(name, what string) common.Param {
	return common.Param{
		Name:        name,
		Kind:        common.KindInteger,
		Description: what,
	}
}

// Actions returns every mailbox action in a stable order.
func Actions() []common.Action {
	return []common.Action{
		{
			Name:            "latest",
			Description:     "Newest messages in the inbox, newest first.",
			Params:          []common.Param{countParam("n", "Number of messages (default 10, max 1000).")},
			NeedsCredential: true,
			Run: func(ctx context.Context, call common.Call) (common.Result, error) {
				n, err := call.Args.Int("n", defaultLatest, 1, maxBound)
				if err != nil {
					return common.Result{}, err
				}
				msgs, err := call.Mail.Latest(ctx, n)
				return messages(msgs), err
			},
		},
		{
			Name:            "sent_latest",
			Description:     "Newest sent messages, ordered by send time.",
			Params:          []common.Param{countParam("n", "Number of messages (default 10, max 1000).")},
			NeedsCredential: true,
			Run: func(ctx context.Context, call common.Call) (common.Result, error) {
				n, err := call.Args.Int("n", defaultLatest, 1, maxBound)
				if err != nil {
					return common.Result{}, err
				}
				msgs, err := call.Mail.SentLatest(ctx, n)
				return messages(msgs), err
			},
		},
		{
			Name:            "scan_mailbox",
			Description:     "Messages across all folders, newest first. max=0 reads the whole mailbox.",
			Params:          []common.Param{countParam("max", "Maximum messages (default 100, max 10000, 0 for all).")},
			NeedsCredential: true,
			Run: func(ctx context.Context, call common.Call) (common.Result, error) {
				limit, err := call.Args.Int("max", defaultScan, 0, maxScan)
				if err != nil {
					return common.Result{}, err
				}
				msgs, err := call.Mail.ScanMailbox(ctx, limit)
				return messages(msgs), err
			},
		},
		{
			Name:            "list_folders",
			Description:     "Every mail folder, hidden and nested folders included.",
			NeedsCredential: true,
			Run: func(ctx context.Context, call common.Call) (common.Result, error) {
				fs, err := call.Mail.ListFolders(ctx)
				return folders(fs), err
			},
		},
		{
			Name:        "folder_by_name",
			Description: "Messages in the folder with the given display name (case-insensitive).",
			Params: []common.Param{
				{Name: "name", Kind: common.KindString, Description: "Folder display name.", Required: true},
				countParam("max", "Maximum messages (default 25, max 1000)."),
			},
			NeedsCredential: true,
			Run: func(ctx context.Context, call common.Call) (common.Result, error) {
				name, err := call.Args.String("name", true)
				if err != nil {
					return common.Result{}, err
				}
				limit, err := call.Args.Int("max", defaultFolder, 1, maxBound)
				if err != nil {
					return common.Result{}, err
				}
				msgs, err := call.Mail.FolderByName(ctx, name, limit)
				return messages(msgs), err
			},
		},
		{
			Name:        "folder_by_id",
			Description: "Messages in the folder with the given id.",
			Params: []common.Param{
				{Name: "folder_id", Kind: common.KindString, Description: "Folder id.", Required: true},
				countParam("max", "Maximum messages (default 25, max 1000)."),
			},
			NeedsCredential: true,
			Run: func(ctx context.Context, call common.Call) (common.Result, error) {
				id, err := call.Args.String("folder_id", true)
				if err != nil {
					return common.Result{}, err
				}
				limit, err := call.Args.Int("max", defaultFolder, 1, maxBound)
				if err != nil {
					return common.Result{}, err
				}
				msgs, err := call.Mail.FolderByID(ctx, id, limit)
				return messages(msgs), err
			},
		},
		{
			Name:            "search_folders",
			Description:     "Saved search folders.",
			NeedsCredential: true,
			Run: func(ctx context.Context, call common.Call) (common.Result, error) {
				fs, err := call.Mail.SearchFolders(ctx)
				return folders(fs), err
			},
		},
		{
			Name:        "search",
			Description: "Keyword search across all folders, newest first.",
			Params: []common.Param{
				{Name: "query", Kind: common.KindString, Description: "Search keywords (KQL).", Required: true},
				countParam("max", "Maximum messages (default 25, max 1000)."),
			},
			NeedsCredential: true,
			Run: func(ctx context.Context, call common.Call) (common.Result, error) {
				q, err := call.Args.String("query", true)
				if err != nil {
					return common.Result{}, err
				}
				limit, err := call.Args.Int("max", defaultSearch, 1, maxBound)
				if err != nil {
					return common.Result{}, err
				}
				msgs, err := call.Mail.Search(ctx, q, limit)
				return messages(msgs), err
			},
		},
		{
			Name:        "search_all",
			Description: "Keyword search reading every result page, newest first.",
			Params: []common.Param{
				{Name: "query", Kind: common.KindString, Description: "Search keywords (KQL).", Required: true},
			},
			NeedsCredential: true,
			Run: func(ctx context.Context, call common.Call) (common.Result, error) {
				q, err := call.Args.String("query", true)
				if err != nil {
					return common.Result{}, err
				}
				msgs, err := call.Mail.Search(ctx, q, 0)
				return messages(msgs), err
			},
		},
		{
			Name:        "date_range",
			Description: "Messages received in [from, to), newest first. A date-only 'to' includes that whole day.",
			Params: []common.Param{
				{Name: "from", Kind: common.KindDateTime, Description: "Start, RFC 3339 or YYYY-MM-DD.", Required: true},
				{Name: "to", Kind: common.KindDateTime, Description: "End, RFC 3339 or YYYY-MM-DD.", Required: true},
				countParam("max", "Maximum messages (default 100, max 10000)."),
			},
			NeedsCredential: true,
			Run: func(ctx context.Context, call common.Call) (common.Result, error) {
				from, to, err := dateWindow(call.Args)
				if err != nil {
					return common.Result{}, err
				}
				limit, err := call.Args.Int("max", defaultRange, 1, maxScan)
				if err != nil {
					return common.Result{}, err
				}
				msgs, err := call.Mail.DateRange(ctx, from, to, limit)
				return messages(msgs), err
			},
		},
		{
			Name:        "from_email",
			Description: "Messages from one or more exact sender addresses, merged and newest first.",
			Params: []common.Param{
				{Name: "address", Kind: common.KindStringList, Description: "Sender address, a list, or a comma-separated list.", Required: true},
				countParam("max", "Maximum messages per address (default 100, max 1000)."),
			},
			NeedsCredential: true,
			Run: func(ctx context.Context, call common.Call) (common.Result, error) {
				addrs, err := call.Args.StringList("address")
				if err != nil {
					return common.Result{}, err
				}
				limit, err := call.Args.Int("max", defaultPerEmail, 1, maxBound)
				if err != nil {
					return common.Result{}, err
				}
				msgs, err := call.Mail.FromAddresses(ctx, addrs, limit)
				res := messages(msgs)
				res.SenderDomain = instrumentation.SenderDomain(addrs)
				return res, err
			},
		},
		{
			Name: "from_name",
			Description: "Messages from a sender known by name. Samples a search for the name, " +
				"then crawls every sender address found. Addresses missing from the sample are not crawled.",
			Params: []common.Param{
				{Name: "name", Kind: common.KindString, Description: "Sender display name.", Required: true},
				countParam("sample", "Search hits sampled for addresses (default 25, max 1000)."),
				countParam("max", "Maximum messages per address (default 100, max 1000)."),
			},
			NeedsCredential: true,
			Run: func(ctx context.Context, call common.Call) (common.Result, error) {
				name, err := call.Args.String("name", true)
				if err != nil {
					return common.Result{}, err
				}
				sample, err := call.Args.Int("sample", defaultSample, 1, maxBound)
				if err != nil {
					return common.Result{}, err
				}
				limit, err := call.Args.Int("max", defaultPerEmail, 1, maxBound)
				if err != nil {
					return common.Result{}, err
				}
				msgs, senders, err := call.Mail.FromName(ctx, name, sample, limit)
				if err != nil {
					return common.Result{}, err
				}
				res := messages(msgs)
				mr := res.Value.(MessagesResult)
				mr.Senders = senders
				res.Value = mr
				res.SenderDomain = instrumentation.SenderDomain(senders)
				return res, nil
			},
		},
		{
			Name:        "auth_status",
			Description: "Whether a usable credential is bound to the identity key.",
			Run: func(ctx context.Context, call common.Call) (common.Result, error) {
				auth := call.Server.Auth()
				if auth == nil {
					return common.Result{}, errors.New("authorization is not configured")
				}
				st, err := auth.Status(ctx, call.IdentityKey)
				if err != nil {
					return common.Result{}, err
				}
				return common.Result{Count: 1, Value: st}, nil
			},
		},
	}
}

// dateWindow reads from/to. A date-only "to" is moved to the end of that
// day so the whole day is included.
func dateWindow(args common.Args) (time.Time, time.Time, error) {
	from, _, err := args.Time("from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, dateOnly, err := args.Time("to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if dateOnly {
		to = to.AddDate(0, 0, 1)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, common.Invalidf("to", "must be after from")
	}
	return from, to, nil
}
