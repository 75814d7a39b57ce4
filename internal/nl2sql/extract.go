package nl2sql

import "strings"

const (
	sqlQueryMarker  = "SQLQuery:"
	sqlResultMarker = "SQLResult:"
)

// ExtractSQL pulls the statement out of a text-to-SQL completion. Text up to
// and including the first "SQLQuery:" is dropped, then the first "SQLResult:"
// and everything after it. Surrounding whitespace and backticks are trimmed.
// A completion with no markers is returned trimmed. Nothing is validated.
func ExtractSQL(response string) string {
	if start := strings.Index(response, sqlQueryMarker); start >= 0 {
		response = response[start+len(sqlQueryMarker):]
	}
	if end := strings.Index(response, sqlResultMarker); end >= 0 {
		response = response[:end]
	}
	response = strings.TrimSpace(response)
	response = strings.Trim(response, "`")
	return strings.TrimSpace(response)
}
