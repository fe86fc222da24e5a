package querysql

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// fromKeyword locates FROM clauses.
var fromKeyword = regexp.MustCompile(`(?i)\bFROM\b`)

// clauseKeyword ends a FROM clause at paren depth 0.
var clauseKeyword = regexp.MustCompile(`(?i)^(WHERE|GROUP|ORDER|HAVING|LIMIT|WINDOW|UNION|QUALIFY|EXCEPT|INTERSECT)\b`)

// arrayJoin matches a correlated array join inside a FROM clause:
//
//	, T.alternate_bases AS A
//	CROSS JOIN UNNEST(T.alternate_bases) AS A
//	JOIN UNNEST(A.CSQ) CSQ
var arrayJoin = regexp.MustCompile(
	`(?i)(,|\bCROSS\s+JOIN\b|\bJOIN\b)\s*(UNNEST\s*\(\s*)?([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\s*(\))?\s+(?:AS\s+)?([A-Za-z_][A-Za-z0-9_]*)`)

// fieldRef matches alias.field references.
var fieldRef = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\b`)

type rewrite struct {
	start, end int
	text       string
}

// TranslateSQLite rewrites BigQuery standard SQL over nested repeated
// columns into SQLite SQL over JSON text columns.
//
// Correlated array joins become json_each table-valued joins, and field
// references through an array alias become json_extract calls on the
// element value:
//
//	FROM t AS T, T.alternate_bases AS A, A.CSQ AS CSQ
//	FROM t AS T, json_each(T.alternate_bases) AS A,
//	     json_each(json_extract(A.value, '$.CSQ')) AS CSQ
//
// Backtick-quoted identifiers are re-quoted with double quotes. Everything
// else passes through unchanged.
func TranslateSQLite(sql string) string {
	sql = strings.ReplaceAll(sql, "`", `"`)

	arrays := make(map[string]bool)
	var joins []rewrite

	for _, loc := range fromKeyword.FindAllStringIndex(sql, -1) {
		if insideQuotes(sql, loc[0]) {
			continue
		}
		start := loc[1]
		end := fromClauseEnd(sql, start)
		segment := sql[start:end]
		depths := parenDepths(segment)

		for _, m := range arrayJoin.FindAllStringSubmatchIndex(segment, -1) {
			if depths[m[0]] != 0 {
				continue
			}
			// UNNEST( must be closed by the optional ")" group and vice versa.
			hasUnnest := m[4] >= 0
			hasClose := m[10] >= 0
			if hasUnnest != hasClose {
				continue
			}

			sep := segment[m[2]:m[3]]
			source := segment[m[6]:m[7]]
			field := segment[m[8]:m[9]]
			alias := segment[m[12]:m[13]]

			var expr string
			if arrays[source] {
				expr = jsonExtract(source, field)
			} else {
				expr = source + "." + field
			}

			joins = append(joins, rewrite{
				start: start + m[0],
				end:   start + m[1],
				text:  fmt.Sprintf("%s json_each(%s) AS %s", sep, expr, alias),
			})
			arrays[alias] = true
		}
	}

	if len(arrays) == 0 {
		return sql
	}

	sort.Slice(joins, func(i, j int) bool { return joins[i].start < joins[j].start })

	var b strings.Builder
	pos := 0
	for _, j := range joins {
		if j.start < pos {
			continue
		}
		b.WriteString(rewriteFieldRefs(sql[pos:j.start], arrays))
		b.WriteString(j.text)
		pos = j.end
	}
	b.WriteString(rewriteFieldRefs(sql[pos:], arrays))
	return b.String()
}

func jsonExtract(alias, field string) string {
	return fmt.Sprintf("json_extract(%s.value, '$.%s')", alias, field)
}

// rewriteFieldRefs replaces alias.field with json_extract for array aliases.
// References followed by "(" are function calls and are left alone.
func rewriteFieldRefs(text string, arrays map[string]bool) string {
	matches := fieldRef.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	pos := 0
	for _, m := range matches {
		alias := text[m[2]:m[3]]
		field := text[m[4]:m[5]]
		if !arrays[alias] || followedByParen(text, m[1]) || insideQuotes(text, m[0]) {
			continue
		}
		b.WriteString(text[pos:m[0]])
		b.WriteString(jsonExtract(alias, field))
		pos = m[1]
	}
	b.WriteString(text[pos:])
	return b.String()
}

func followedByParen(s string, i int) bool {
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '(':
			return true
		default:
			return false
		}
	}
	return false
}

// insideQuotes reports whether offset i falls inside a single-quoted string
// literal.
func insideQuotes(s string, i int) bool {
	return strings.Count(s[:i], "'")%2 == 1
}

// fromClauseEnd returns the offset where the FROM clause starting at start
// ends: a clause keyword or an unmatched ")" at depth 0, or the end of input.
func fromClauseEnd(s string, start int) int {
	depth := 0
	for i := start; i < len(s); i++ {
		switch c := s[i]; c {
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return i
			}
			depth--
		case '\'', '"':
			j := strings.IndexByte(s[i+1:], c)
			if j < 0 {
				return len(s)
			}
			i += j + 1
		default:
			if depth == 0 && (i == 0 || !isIdentByte(s[i-1])) && clauseKeyword.MatchString(s[i:]) {
				return i
			}
		}
	}
	return len(s)
}

// parenDepths returns the parenthesis depth at each byte offset of s.
// The slice has len(s)+1 entries.
func parenDepths(s string) []int {
	depths := make([]int, len(s)+1)
	depth := 0
	for i := 0; i < len(s); i++ {
		depths[i] = depth
		switch s[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		}
	}
	depths[len(s)] = depth
	return depths
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
