package querysql

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Canned queries a fixture can name instead of spelling out SQL.
const (
	NumRowsQuery  = "NUM_ROWS_QUERY"
	SumStartQuery = "SUM_START_QUERY"
	SumEndQuery   = "SUM_END_QUERY"
)

// TableNameVar is the placeholder replaced by the table under test.
const TableNameVar = "TABLE_NAME"

var cannedQueries = map[string]string{
	NumRowsQuery:  "SELECT COUNT(0) AS num_rows FROM {TABLE_NAME}",
	SumStartQuery: "SELECT SUM(start_position) AS sum_start FROM {TABLE_NAME}",
	SumEndQuery:   "SELECT SUM(end_position) AS sum_end FROM {TABLE_NAME}",
}

// placeholder matches {NAME} tokens. Only upper-case names are treated as
// placeholders so literal braces in SQL survive.
var placeholder = regexp.MustCompile(`\{([A-Z][A-Z0-9_]*)\}`)

// aliasPattern matches "AS name" and "AS `name`".
var aliasPattern = regexp.MustCompile("(?i)\\bAS\\s+`?([A-Za-z_][A-Za-z0-9_]*)`?")

var (
	selectKeyword = regexp.MustCompile(`(?i)^SELECT\b`)
	listEnd       = regexp.MustCompile(`(?i)^(FROM|UNION|EXCEPT|INTERSECT)\b`)
)

// Vars maps placeholder names (without braces) to replacement text.
type Vars map[string]string

// Canned returns the template registered under name.
func Canned(name string) (string, bool) {
	q, ok := cannedQueries[name]
	return q, ok
}

// CannedNames returns the registered canned query names, sorted.
func CannedNames() []string {
	names := make([]string, 0, len(cannedQueries))
	for name := range cannedQueries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expand concatenates query fragments and resolves a canned query name.
// Placeholders are left in place.
func Expand(fragments []string) (string, error) {
	if len(fragments) == 0 {
		return "", fmt.Errorf("query has no fragments")
	}

	text := strings.Join(fragments, "")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("query is blank")
	}

	if canned, ok := cannedQueries[strings.TrimSpace(text)]; ok {
		return canned, nil
	}
	return text, nil
}

// Substitute replaces every {NAME} placeholder with vars[NAME].
// An unresolved placeholder is an error; the message lists all of them.
func Substitute(text string, vars Vars) (string, error) {
	var missing []string
	seen := make(map[string]bool)

	out := placeholder.ReplaceAllStringFunc(text, func(token string) string {
		name := token[1 : len(token)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return token
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved placeholder(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Render expands fragments and substitutes placeholders.
func Render(fragments []string, vars Vars) (string, error) {
	text, err := Expand(fragments)
	if err != nil {
		return "", err
	}
	return Substitute(text, vars)
}

// Placeholders returns the distinct placeholder names used in text, in
// order of first appearance.
func Placeholders(text string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Aliases returns the column aliases of the query's result: names
// introduced with AS at the top level of the outermost SELECT list, in
// order of appearance. Table aliases and aliases inside subqueries or
// function calls are not result columns.
func Aliases(sql string) []string {
	list := selectList(sql)
	depths := parenDepths(list)

	var names []string
	seen := make(map[string]bool)
	for _, m := range aliasPattern.FindAllStringSubmatchIndex(list, -1) {
		if depths[m[0]] != 0 {
			continue
		}
		name := list[m[2]:m[3]]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// selectList returns the text between the first depth-0 SELECT and the
// FROM that closes its column list. Quoted text is skipped.
func selectList(sql string) string {
	depth := 0
	start := -1
	for i := 0; i < len(sql); i++ {
		switch c := sql[i]; c {
		case '(':
			depth++
		case ')':
			depth--
		case '\'', '"', '`':
			j := strings.IndexByte(sql[i+1:], c)
			if j < 0 {
				i = len(sql)
				continue
			}
			i += j + 1
		default:
			if depth != 0 || (i > 0 && isIdentByte(sql[i-1])) {
				continue
			}
			if start < 0 {
				if selectKeyword.MatchString(sql[i:]) {
					start = i + len("SELECT")
				}
				continue
			}
			if listEnd.MatchString(sql[i:]) {
				return sql[start:i]
			}
		}
	}
	if start < 0 {
		return ""
	}
	return sql[start:]
}

// HasAlias reports whether name is introduced with AS in sql.
func HasAlias(sql, name string) bool {
	for _, a := range Aliases(sql) {
		if a == name {
			return true
		}
	}
	return false
}
