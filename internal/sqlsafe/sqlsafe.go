// Package sqlsafe holds the lexical checks applied to every query before it
// reaches a data source.
package sqlsafe

import (
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/kyleking/fedquery/internal/errors"
)

// Blocklist is the set of statement keywords a generated query may never contain
var Blocklist = []string{"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "TRUNCATE", "GRANT", "REVOKE"}

var (
	blocklistPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(Blocklist, "|") + `)\b`)
	limitPattern     = regexp.MustCompile(`(?i)\blimit\b`)
	leadingKeyword   = regexp.MustCompile(`^\s*\(*\s*([A-Za-z]+)`)
)

var readOnlyLeaders = map[string]bool{
	"SELECT": true, "WITH": true, "VALUES": true, "SHOW": true, "DESCRIBE": true, "EXPLAIN": true,
}

// StripLiterals blanks out quoted strings, quoted identifiers and comments so
// keyword checks only see bare SQL tokens. Offsets are preserved.
func StripLiterals(query string) string {
	out := []byte(query)

	for i := 0; i < len(out); i++ {
		switch c := out[i]; {
		case c == '\'' || c == '"' || c == '`':
			j := i + 1
			for j < len(out) {
				if out[j] == c {
					// doubled quote is an escaped quote
					if j+1 < len(out) && out[j+1] == c {
						out[j], out[j+1] = ' ', ' '
						j += 2

						continue
					}

					break
				}

				out[j] = ' '
				j++
			}

			i = j
		case c == '-' && i+1 < len(out) && out[i+1] == '-':
			for i < len(out) && out[i] != '\n' {
				out[i] = ' '
				i++
			}
		case c == '/' && i+1 < len(out) && out[i+1] == '*':
			for i < len(out) {
				if out[i] == '*' && i+1 < len(out) && out[i+1] == '/' {
					out[i], out[i+1] = ' ', ' '
					i++

					break
				}

				out[i] = ' '
				i++
			}
		}
	}

	return string(out)
}

// DestructiveKeyword returns the first blocklisted keyword found outside quoted
// literals, uppercased
func DestructiveKeyword(query string) (string, bool) {
	m := blocklistPattern.FindString(StripLiterals(query))
	if m == "" {
		return "", false
	}

	return strings.ToUpper(m), true
}

// CheckBlocklist fails with RejectedGeneration when query holds a destructive keyword
func CheckBlocklist(query string) error {
	if kw, ok := DestructiveKeyword(query); ok {
		return apperrors.Newf(apperrors.ErrTypeRejectedGeneration,
			"query contains destructive keyword %s", kw)
	}

	return nil
}

// CheckReadOnly accepts a single read statement and nothing else
func CheckReadOnly(query string) error {
	if strings.TrimSpace(query) == "" {
		return apperrors.NewValidationError("query", "cannot be empty")
	}

	if err := CheckBlocklist(query); err != nil {
		return err
	}

	stripped := strings.TrimSpace(StripLiterals(query))
	stripped = strings.TrimRight(stripped, "; \t\n")

	if strings.Contains(stripped, ";") {
		return apperrors.NewValidationError("query", "multiple statements are not allowed")
	}

	m := leadingKeyword.FindStringSubmatch(stripped)
	if m == nil || !readOnlyLeaders[strings.ToUpper(m[1])] {
		return apperrors.NewValidationError("query", "only read statements are allowed")
	}

	return nil
}

// HasLimit reports whether query already carries a LIMIT clause
func HasLimit(query string) bool {
	return limitPattern.MatchString(StripLiterals(query))
}

// EnsureLimit appends LIMIT n when query has none. A non-positive n leaves the
// query untouched.
func EnsureLimit(query string, n int) string {
	if n <= 0 || HasLimit(query) {
		return query
	}

	trimmed := strings.TrimRight(strings.TrimSpace(query), ";")
	trimmed = strings.TrimSpace(trimmed)

	return trimmed + " LIMIT " + strconv.Itoa(n)
}
