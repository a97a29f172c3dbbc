package query

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/kyleking/fedquery/internal/errors"
)

// RuleConfig holds the deterministic pass's scoring knobs
type RuleConfig struct {
	BaseConfidence float64
	Increment      float64
	MaxConfidence  float64
	DefaultLimit   int
}

// DefaultRuleConfig returns the stock confidence scoring and row cap
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		BaseConfidence: 0.5,
		Increment:      0.1,
		MaxConfidence:  0.9,
		DefaultLimit:   100,
	}
}

var (
	countPattern     = regexp.MustCompile(`\b(?:count|how\s+many|number\s+of)\b`)
	aggregatePattern = regexp.MustCompile(
		`\b(sum|total|average|avg|mean|max|maximum|highest|min|minimum|lowest)\s+(?:of\s+)?(?:the\s+)?(\w+)`)
	groupPattern  = regexp.MustCompile(`\b(?:group(?:ed)?\s+by|per|for\s+each|by\s+each)\s+(\w+)`)
	filterPattern = regexp.MustCompile(
		`\b(?:where|with|having)\s+(\w+)\s*(?:is\s+)?(?:(>=|<=|!=|=|>|<)\s*|` +
			`(equals|equal\s+to|is|contains|like|greater\s+than|more\s+than|less\s+than|at\s+least|at\s+most|above|below|over|under)\s+)` +
			`(.+)$`)
	orderPattern   = regexp.MustCompile(`\b(?:order|sort)(?:ed)?\s+by\s+(\w+)(?:\s+(desc|descending|asc|ascending))?`)
	limitPattern   = regexp.MustCompile(`\b(?:top|first|limit)\s+(\d+)\b`)
	allPattern     = regexp.MustCompile(`\b(?:all|every)\b`)
	selectPattern  = regexp.MustCompile(`\b(?:show|get|find|select|list|display)\b`)
	numericLiteral = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
	trailingClause = regexp.MustCompile(
		`\s+(?:(?:order|sort)(?:ed)?\s+by|group(?:ed)?\s+by|(?:top|first|limit)\s+\d+|and\s+(?:order|sort))\b.*$`)
)

var aggregateFuncs = map[string]string{
	"sum": "SUM", "total": "SUM",
	"average": "AVG", "avg": "AVG", "mean": "AVG",
	"max": "MAX", "maximum": "MAX", "highest": "MAX",
	"min": "MIN", "minimum": "MIN", "lowest": "MIN",
}

var filterOperators = map[string]string{
	"=": "=", "equals": "=", "equal to": "=", "is": "=",
	"!=": "<>",
	">": ">", "greater than": ">", "more than": ">", "above": ">", "over": ">",
	"<": "<", "less than": "<", "below": "<", "under": "<",
	">=": ">=", "at least": ">=",
	"<=": "<=", "at most": "<=",
	"contains": "LIKE", "like": "LIKE",
}

// RulePass generates SQL by matching ordered phrase patterns against the
// best-matching table's columns
type RulePass struct {
	cfg RuleConfig
}

// NewRulePass creates the deterministic pass
func NewRulePass(cfg RuleConfig) *RulePass {
	return &RulePass{cfg: cfg}
}

func (p *RulePass) Stage() Stage {
	return StageRules
}

type queryParts struct {
	selects []string
	from    string
	where   []string
	groupBy []string
	orderBy []string
	limit   int
}

func (q queryParts) build() string {
	selects := q.selects
	if len(selects) == 0 {
		selects = []string{"*"}
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(selects, ", "), q.from)

	if len(q.where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(q.where, " AND "))
	}

	if len(q.groupBy) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(q.groupBy, ", "))
	}

	if len(q.orderBy) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(q.orderBy, ", "))
	}

	if q.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.limit)
	}

	sb.WriteString(";")

	return sb.String()
}

// Generate builds a query against the first match. Each pattern that
// contributes to the query raises confidence by the configured increment.
func (p *RulePass) Generate(_ context.Context, req Request) (GeneratedQuery, error) {
	if len(req.Matches) == 0 {
		return GeneratedQuery{}, apperrors.New(apperrors.ErrTypeValidation, "no schema matches to generate from")
	}

	best := req.Matches[0].Descriptor
	columns := best.ColumnNames
	nl := strings.ToLower(strings.TrimSpace(req.Text))

	parts := queryParts{from: quoteIdent(best.TableName)}
	confidence := p.cfg.BaseConfidence

	var matched []string

	hit := func(name string) {
		confidence += p.cfg.Increment
		matched = append(matched, name)
	}

	// text left for column mentions once clause phrases are consumed
	selectText := nl

	if countPattern.MatchString(nl) {
		parts.selects = []string{"COUNT(*)"}
		hit("count")
	}

	if m := aggregatePattern.FindStringSubmatch(nl); m != nil {
		if col := findColumn(m[2], columns); col != "" {
			parts.selects = []string{fmt.Sprintf("%s(%s)", aggregateFuncs[m[1]], quoteIdent(col))}
			hit("aggregate")
		}
	}

	if m := groupPattern.FindStringSubmatch(nl); m != nil {
		if col := findColumn(m[1], columns); col != "" {
			quoted := quoteIdent(col)
			agg := "COUNT(*)"

			if len(parts.selects) > 0 {
				agg = parts.selects[0]
			}

			parts.selects = []string{quoted, agg}
			parts.groupBy = []string{quoted}
			selectText = strings.Replace(selectText, m[0], " ", 1)

			hit("group")
		}
	}

	if m := filterPattern.FindStringSubmatch(nl); m != nil {
		if cond, ok := buildCondition(m, columns); ok {
			parts.where = append(parts.where, cond)
			selectText = strings.Replace(selectText, m[0], " ", 1)

			hit("filter")
		}
	}

	if m := orderPattern.FindStringSubmatch(nl); m != nil {
		if col := findColumn(m[1], columns); col != "" {
			direction := "ASC"
			if strings.HasPrefix(m[2], "desc") {
				direction = "DESC"
			}

			parts.orderBy = []string{quoteIdent(col) + " " + direction}
			selectText = strings.Replace(selectText, m[0], " ", 1)

			hit("order")
		}
	}

	if m := limitPattern.FindStringSubmatch(nl); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			parts.limit = n
			hit("limit")
		}
	}

	if parts.limit == 0 && !allPattern.MatchString(nl) {
		parts.limit = p.cfg.DefaultLimit
	}

	if len(parts.selects) == 0 && selectPattern.MatchString(nl) {
		if mentioned := mentionedColumns(selectText, columns); len(mentioned) > 0 {
			parts.selects = mentioned
		}

		hit("select")
	}

	explanation := "Generated using pattern matching"
	if len(matched) > 0 {
		explanation += " (" + strings.Join(matched, ", ") + ")"
	}

	return GeneratedQuery{
		QueryText:        parts.build(),
		SourceName:       best.SourceName,
		ReferencedTables: []string{best.TableName},
		Confidence:       math.Round(math.Min(confidence, p.cfg.MaxConfidence)*100) / 100,
		Explanation:      explanation,
		Stage:            StageRules,
	}, nil
}

// buildCondition renders a WHERE condition from a filterPattern match
func buildCondition(m []string, columns []string) (string, bool) {
	col := findColumn(m[1], columns)
	if col == "" {
		return "", false
	}

	opWord := m[2]
	if opWord == "" {
		opWord = strings.Join(strings.Fields(m[3]), " ")
	}

	op := filterOperators[opWord]

	value := trailingClause.ReplaceAllString(m[4], "")
	value = strings.Trim(strings.TrimSpace(value), `"'?.!,;`)

	if op == "" || value == "" {
		return "", false
	}

	quoted := quoteIdent(col)

	switch {
	case op == "LIKE":
		return quoted + " LIKE " + quoteLiteral("%"+value+"%"), true
	case numericLiteral.MatchString(value):
		return quoted + " " + op + " " + value, true
	default:
		return quoted + " " + op + " " + quoteLiteral(value), true
	}
}

// findColumn matches text to a column: exactly, then by containment either
// way, then by any underscore-separated part of text
func findColumn(text string, columns []string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return ""
	}

	for _, col := range columns {
		if strings.ToLower(col) == text {
			return col
		}
	}

	for _, col := range columns {
		lc := strings.ToLower(col)
		if strings.Contains(lc, text) || strings.Contains(text, lc) {
			return col
		}
	}

	for _, col := range columns {
		lc := strings.ToLower(col)

		for _, part := range strings.Split(text, "_") {
			if part != "" && strings.Contains(lc, part) {
				return col
			}
		}
	}

	return ""
}

// mentionedColumns returns the columns named as whole words in text, allowing
// a plural s and spaces in place of underscores
func mentionedColumns(text string, columns []string) []string {
	var out []string

	for _, col := range columns {
		phrase := strings.ReplaceAll(regexp.QuoteMeta(strings.ToLower(col)), "_", `[_\s]`)

		re, err := regexp.Compile(`\b` + phrase + `s?\b`)
		if err != nil {
			continue
		}

		if re.MatchString(text) {
			out = append(out, quoteIdent(col))
		}
	}

	return out
}
