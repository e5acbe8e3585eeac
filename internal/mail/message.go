package mail

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// previewLimit caps Message.Preview in runes.
const previewLimit = 200

// Message is the compact projection of a remote message returned to
// callers.
type Message struct {
	ID       string    `json:"id"`
	Received time.Time `json:"received"`
	Sent     time.Time `json:"sent"`
	From     string    `json:"from"`
	Subject  string    `json:"subject"`
	Preview  string    `json:"preview"`
	FolderID string    `json:"folder_id"`
}

// Folder is a mail folder.
type Folder struct {
	ID               string `json:"id"`
	DisplayName      string `json:"display_name"`
	ParentFolderID   string `json:"parent_folder_id,omitempty"`
	ChildFolderCount int    `json:"child_folder_count"`
	TotalItemCount   int    `json:"total_item_count"`
	UnreadItemCount  int    `json:"unread_item_count"`
}

// messageFields is the $select list backing Message.
const messageFields = "id,receivedDateTime,sentDateTime,from,subject,bodyPreview,parentFolderId"

// folderFields is the $select list backing Folder.
const folderFields = "id,displayName,parentFolderId,childFolderCount,totalItemCount,unreadItemCount"

type emailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type remoteMessage struct {
	ID               string    `json:"id"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	SentDateTime     time.Time `json:"sentDateTime"`
	Subject          string    `json:"subject"`
	BodyPreview      string    `json:"bodyPreview"`
	ParentFolderID   string    `json:"parentFolderId"`
	From             *struct {
		EmailAddress emailAddress `json:"emailAddress"`
	} `json:"from"`
}

func (m remoteMessage) sender() string {
	if m.From == nil {
		return ""
	}
	return m.From.EmailAddress.Address
}

func (m remoteMessage) shape() Message {
	return Message{
		ID:       m.ID,
		Received: m.ReceivedDateTime.UTC(),
		Sent:     m.SentDateTime.UTC(),
		From:     m.sender(),
		Subject:  m.Subject,
		Preview:  truncate(strings.TrimSpace(m.BodyPreview), previewLimit),
		FolderID: m.ParentFolderID,
	}
}

type remoteFolder struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	ParentFolderID   string `json:"parentFolderId"`
	ChildFolderCount int    `json:"childFolderCount"`
	TotalItemCount   int    `json:"totalItemCount"`
	UnreadItemCount  int    `json:"unreadItemCount"`
}

func (f remoteFolder) shape() Folder {
	return Folder(f)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

// SortByReceived orders msgs newest first. Equal timestamps keep their
// relative order.
func SortByReceived(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return b.Received.Compare(a.Received)
	})
}

// Dedupe drops messages whose id was already seen, keeping the first.
func Dedupe(msgs []Message) []Message {
	seen := make(map[string]struct{}, len(msgs))
	out := msgs[:0:0]
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
