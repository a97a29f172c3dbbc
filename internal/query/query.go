// Package query turns natural-language questions into read-only SQL against
// the tables matched in the schema index.
package query

import (
	"regexp"
	"strings"

	"github.com/kyleking/fedquery/internal/sqlsafe"
)

// Stage names the generation pass that produced a query
type Stage string

const (
	StageRules Stage = "rules"
	StageModel Stage = "model"
)

// GeneratedQuery is the output of generation
type GeneratedQuery struct {
	QueryText        string   `json:"query"`
	SourceName       string   `json:"source_name"`
	ReferencedTables []string `json:"tables"`
	Confidence       float64  `json:"confidence"`
	Explanation      string   `json:"explanation"`
	Stage            Stage    `json:"stage"`
}

// Empty reports whether generation found nothing to run
func (q GeneratedQuery) Empty() bool {
	return strings.TrimSpace(q.QueryText) == ""
}

var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quoteIdent leaves simple identifiers bare and double-quotes the rest,
// including names that collide with a blocklisted keyword
func quoteIdent(name string) string {
	if plainIdent.MatchString(name) && !isBlocklisted(name) {
		return name
	}

	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral renders s as a single-quoted SQL string
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func isBlocklisted(name string) bool {
	for _, kw := range sqlsafe.Blocklist {
		if strings.EqualFold(name, kw) {
			return true
		}
	}

	return false
}
