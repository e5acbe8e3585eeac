package mail

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// odataTime is the literal format Graph accepts in $filter.
const odataTime = "2006-01-02T15:04:05Z"

// epoch is the lower bound used to make sender filters sortable by
// receivedDateTime.
const epoch = "1900-01-01T00:00:00Z"

// query is an ordered set of query options. OData option names keep their
// leading '$' unescaped.
type query []struct{ key, value string }

func (q query) set(key, value string) query {
	return append(q, struct{ key, value string }{key, value})
}

func (q query) encode() string {
	var b strings.Builder
	for i, kv := range q {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(kv.key)
		b.WriteByte('=')
		b.WriteString(strings.ReplaceAll(url.QueryEscape(kv.value), "+", "%20"))
	}
	return b.String()
}

// quoteLiteral renders s as an OData string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// quoteSearch renders s as a $search phrase.
func quoteSearch(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(odataTime)
}

func itoa(n int) string { return strconv.Itoa(n) }
