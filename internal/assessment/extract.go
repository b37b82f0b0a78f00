package assessment

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Extract scans text for field markers when no structural parse succeeded.
// It is lossy and order independent: fields it cannot find are simply absent
// from the returned record, which uses the schema's wire keys.
func Extract(text string, schema Schema) Record {
	return newExtractor(schema).extract(text)
}

type fieldPattern struct {
	key string
	re  *regexp.Regexp
}

type categoryPattern struct {
	name string
	re   *regexp.Regexp
}

type extractor struct {
	fields     Fields
	scalars    []fieldPattern
	lists      []fieldPattern
	subfields  []fieldPattern
	categories []categoryPattern
}

func newExtractor(schema Schema) *extractor {
	f := schema.Fields
	e := &extractor{fields: f}
	for _, spec := range []FieldSpec{f.InitialNote, f.FinalScore, f.LetterGrade, f.Summary} {
		if re := fieldRegexp(spec); re != nil {
			e.scalars = append(e.scalars, fieldPattern{key: spec.Key, re: re})
		}
	}
	for _, spec := range []FieldSpec{f.PositiveFlags, f.NegativeFlags} {
		if re := fieldRegexp(spec); re != nil {
			e.lists = append(e.lists, fieldPattern{key: spec.Key, re: re})
		}
	}
	for _, spec := range []FieldSpec{f.PositiveAspect, f.NegativeAspect, f.Score, f.Justification} {
		if re := fieldRegexp(spec); re != nil {
			e.subfields = append(e.subfields, fieldPattern{key: spec.Key, re: re})
		}
	}
	for _, category := range schema.Categories {
		if re := categoryRegexp(category); re != nil {
			e.categories = append(e.categories, categoryPattern{name: category.Name, re: re})
		}
	}
	return e
}

// fieldRegexp matches a field marker such as `"Final Score":` or `summary =`
// under any of the field's names, leaving the match end at the value.
func fieldRegexp(spec FieldSpec) *regexp.Regexp {
	var alternatives []string
	for _, name := range spec.names() {
		key := normalizeKey(name)
		if key == "" {
			continue
		}
		tokens := strings.Split(key, "_")
		for i, token := range tokens {
			tokens[i] = regexp.QuoteMeta(token)
		}
		alternatives = append(alternatives, strings.Join(tokens, `[\s_\-]+`))
	}
	if len(alternatives) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])\**["'“]?(?:` + strings.Join(alternatives, "|") + `)["'”]?\**\s*[:=][ \t]*`)
}

func categoryRegexp(spec CategorySpec) *regexp.Regexp {
	var alternatives []string
	for _, name := range append([]string{spec.Name}, spec.Aliases...) {
		key := categoryKey(name)
		if key == "" {
			continue
		}
		tokens := strings.Split(key, "_")
		for i, token := range tokens {
			tokens[i] = regexp.QuoteMeta(token)
		}
		alternatives = append(alternatives, strings.Join(tokens, `[\W_]+(?:and[\W_]+)?`))
	}
	if len(alternatives) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alternatives, "|") + `)\b`)
}

func (e *extractor) extract(text string) Record {
	record := Record{}
	for _, field := range e.scalars {
		if loc := field.re.FindStringIndex(text); loc != nil {
			if value, ok := readScalar(text, loc[1]); ok {
				record[field.key] = value
			}
		}
	}
	for _, field := range e.lists {
		if loc := field.re.FindStringIndex(text); loc != nil {
			if items, ok := readList(text, loc[1]); ok {
				record[field.key] = items
			}
		}
	}
	if categories := e.extractCategories(text); len(categories) > 0 {
		record[e.fields.Categories.Key] = categories
	}
	return record
}

func (e *extractor) extractCategories(text string) []any {
	matches := make([][][]int, len(e.categories))
	for i, category := range e.categories {
		matches[i] = category.re.FindAllStringIndex(text, -1)
	}

	var categories []any
	for i, category := range e.categories {
		for _, loc := range matches[i] {
			block := categoryBlock(text, loc, func(from, to int) bool {
				return otherCategoryWithin(matches, i, from, to)
			}, nextOtherCategory(matches, i, loc[1], len(text)))

			entry := map[string]any{}
			for _, field := range e.subfields {
				if at := field.re.FindStringIndex(block); at != nil {
					if value, ok := readScalar(block, at[1]); ok {
						entry[field.key] = value
					}
				}
			}
			if len(entry) == 0 {
				continue
			}
			entry[e.fields.CategoryName.Key] = category.name
			categories = append(categories, entry)
			break
		}
	}
	return categories
}

// categoryBlock returns the text describing the category matched at loc: an
// object keyed by the name, the object containing the name when it mentions
// no other category, or the prose up to the next category name.
func categoryBlock(text string, loc []int, crowded func(from, to int) bool, next int) string {
	i := loc[1]
	for i < len(text) && strings.ContainsRune(` "'”*`, rune(text[i])) {
		i++
	}
	if i < len(text) && (text[i] == ':' || text[i] == '=') {
		j := i + 1
		for j < len(text) && isSpace(text[j]) {
			j++
		}
		if j < len(text) && text[j] == '{' {
			end := matchClose(text, j)
			if end < 0 {
				end = len(text)
			}
			return text[j:end]
		}
	}

	if start := enclosingBrace(text, loc[0]); start >= 0 {
		end := matchClose(text, start)
		if end < 0 {
			end = len(text)
		}
		if !crowded(start, end) {
			return text[start:end]
		}
	}
	return text[loc[1]:next]
}

func otherCategoryWithin(matches [][][]int, self, from, to int) bool {
	for j, locs := range matches {
		if j == self {
			continue
		}
		for _, loc := range locs {
			if loc[0] > from && loc[0] < to {
				return true
			}
		}
	}
	return false
}

func nextOtherCategory(matches [][][]int, self, after, limit int) int {
	next := limit
	for j, locs := range matches {
		if j == self {
			continue
		}
		for _, loc := range locs {
			if loc[0] >= after && loc[0] < next {
				next = loc[0]
			}
		}
	}
	return next
}

// enclosingBrace finds the unmatched '{' before pos.
func enclosingBrace(text string, pos int) int {
	depth := 0
	for i := pos - 1; i >= 0; i-- {
		switch text[i] {
		case '}':
			depth++
		case '{':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

// matchClose returns the offset just past the bracket closing the one at
// open, honouring strings, or -1.
func matchClose(text string, open int) int {
	depth := 0
	inString, escaped := false, false
	for i := open; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

var nextKeyPattern = regexp.MustCompile(`^\s*["']?[\p{L}_][\p{L}\p{N}_ \-]{0,40}["']?\s*:`)

// readScalar reads the value starting at offset at: a quoted string, or raw
// text up to the next structural delimiter. Objects and arrays are skipped.
func readScalar(text string, at int) (string, bool) {
	if at > len(text) {
		return "", false
	}
	rest := strings.TrimLeft(text[at:], " \t\r\n")
	if rest == "" {
		return "", false
	}
	switch {
	case rest[0] == '{' || rest[0] == '[':
		return "", false
	case rest[0] == '"':
		return readDoubleQuoted(rest)
	case rest[0] == '\'':
		return readDelimited(rest[1:], "'")
	case strings.HasPrefix(rest, "“"):
		return readDelimited(rest[len("“"):], "”")
	}

	end := len(rest)
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if c == '\n' || c == '\r' || c == '}' || c == ']' {
			end = i
			break
		}
		if c == ',' && nextKeyPattern.MatchString(rest[i+1:]) {
			end = i
			break
		}
	}
	value := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest[:end]), ","))
	value = strings.Trim(value, `"'*`)
	return value, value != "" && !isNullWord(value)
}

// isNullWord reports whether a bare value spells out "no value".
func isNullWord(value string) bool {
	switch strings.ToLower(value) {
	case "none", "null", "nil", "n/a", "undefined":
		return true
	}
	return false
}

func readDoubleQuoted(rest string) (string, bool) {
	end := stringEnd(rest, 0)
	if end < 0 {
		line := rest[1:]
		if nl := strings.IndexAny(line, "\r\n"); nl >= 0 {
			line = line[:nl]
		}
		line = strings.TrimSpace(strings.TrimRight(line, `,}] `))
		return unescapeLoose(line), line != ""
	}
	var value string
	if err := json.Unmarshal([]byte(rest[:end]), &value); err != nil {
		value = unescapeLoose(rest[1 : end-1])
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func readDelimited(rest, closer string) (string, bool) {
	end := -1
	for i := 0; i < len(rest); {
		j := strings.Index(rest[i:], closer)
		if j < 0 {
			break
		}
		j += i
		k := j + len(closer)
		if closer != "'" || j == 0 || k >= len(rest) || !isWordByte(rest[j-1]) || !isWordByte(rest[k]) {
			end = j
			break
		}
		i = k
	}
	if end < 0 {
		end = len(rest)
		if nl := strings.IndexAny(rest, "\r\n"); nl >= 0 {
			end = nl
		}
	}
	value := strings.TrimSpace(rest[:end])
	return value, value != ""
}

var looseUnescaper = strings.NewReplacer(`\"`, `"`, `\n`, "\n", `\t`, "\t", `\r`, "", `\\`, `\`, `\/`, "/")

func unescapeLoose(s string) string {
	return strings.TrimSpace(looseUnescaper.Replace(s))
}

var (
	quotedItemPattern = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
	bulletPattern     = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+(.+)$`)
)

// readList reads a bracketed list, a bulleted block on the following lines or
// a single scalar.
func readList(text string, at int) ([]any, bool) {
	rest := strings.TrimLeft(text[at:], " \t")
	if rest == "" || rest[0] == '\n' || rest[0] == '\r' {
		if items, ok := readBullets(rest); ok {
			return items, true
		}
		rest = strings.TrimLeft(rest, " \t\r\n")
	}

	if strings.HasPrefix(rest, "[") {
		body := rest[1:]
		if end := matchClose(rest, 0); end > 0 {
			body = rest[1 : end-1]
		}
		items := []any{}
		if quoted := quotedItemPattern.FindAllString(body, -1); len(quoted) > 0 {
			for _, token := range quoted {
				if value, ok := readDoubleQuoted(token); ok {
					items = append(items, value)
				}
			}
			return items, true
		}
		for _, part := range strings.Split(body, ",") {
			if part = strings.Trim(strings.TrimSpace(part), `'`); part != "" {
				items = append(items, part)
			}
		}
		return items, true
	}

	if value, ok := readScalar(rest, 0); ok {
		return []any{value}, true
	}
	return nil, false
}

func readBullets(rest string) ([]any, bool) {
	var items []any
	for _, line := range strings.Split(rest, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(items) > 0 {
				break
			}
			continue
		}
		match := bulletPattern.FindStringSubmatch(line)
		if match == nil {
			break
		}
		item := strings.Trim(strings.TrimRight(strings.TrimSpace(match[1]), ","), `"'`)
		if item != "" {
			items = append(items, item)
		}
	}
	return items, len(items) > 0
}
