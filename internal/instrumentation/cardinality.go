package instrumentation

import (
	"strconv"
	"strings"
)

// Cardinality helpers. Metric labels must come from small, closed sets;
// these reduce open-ended values (addresses, status codes) to such sets.

// EmailDomain returns the lowercase domain part of an email address, or
// "unknown" when there is none.
//
//	EmailDomain("jane@Example.com")  // "example.com"
//	EmailDomain("invalid")           // "unknown"
func EmailDomain(email string) string {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) == 2 && parts[1] != "" {
		return strings.ToLower(parts[1])
	}
	return "unknown"
}

// SenderDomain labels a set of sender addresses: their shared domain, or
// "mixed" when they span several. An empty set yields "".
func SenderDomain(addrs []string) string {
	domain := ""
	for _, a := range addrs {
		d := EmailDomain(a)
		switch {
		case domain == "":
			domain = d
		case d != domain:
			return "mixed"
		}
	}
	return domain
}

// StatusClass collapses an HTTP status code to "2xx", "4xx" and so on.
// 429 is kept as is since throttling is tracked separately. Zero means
// the request never got a response.
func StatusClass(code int) string {
	switch {
	case code == 0:
		return "network_error"
	case code == 429:
		return "429"
	case code >= 100 && code < 600:
		return strconv.Itoa(code/100) + "xx"
	default:
		return "unknown"
	}
}

// Operation names used for credential store metrics and spans.
const (
	OperationPut    = "put"
	OperationGet    = "get"
	OperationDelete = "delete"
	OperationSweep  = "sweep"
)
