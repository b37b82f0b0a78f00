package assessment

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Level selects how far Repair is allowed to rewrite its input.
type Level int

const (
	// LevelStandard applies the filters that cannot change the meaning of
	// well-formed content.
	LevelStandard Level = iota
	// LevelAggressive also rewrites literals, inserts separators and re-encodes
	// documents that were serialized into string values.
	LevelAggressive
)

func (l Level) String() string {
	if l >= LevelAggressive {
		return "aggressive"
	}
	return "standard"
}

// Repair runs the filter chain over text. It never fails and is idempotent
// for a given level: Repair(Repair(t, l), l) == Repair(t, l).
func Repair(text string, level Level) string {
	// A pass can expose work for the next one, e.g. a bare key hidden behind
	// a stray closer, so run to a fixpoint.
	for pass := 0; pass < maxRepairPasses; pass++ {
		next := repairBody(trimEnvelope(text), level)
		if next == text {
			break
		}
		text = next
	}
	return text
}

const maxRepairPasses = 8

// repairBody runs every filter except the envelope step, so it can also be
// applied to nested fragments that are arrays.
func repairBody(text string, level Level) string {
	text = normalizeQuotes(text)
	text = stripControl(text)
	text = quoteKeys(text)
	text = dropTrailingSeparators(text)
	if level >= LevelAggressive {
		text = fixLiterals(text)
		text = insertMissingCommas(text)
	}
	text = balance(text)
	if level >= LevelAggressive {
		text = reencodeNested(text)
	}
	return text
}

// trimEnvelope trims whitespace and markdown fences, drops prose around the
// object and makes sure the text opens with a brace. Closing braces are the
// balancer's job.
func trimEnvelope(text string) string {
	text = stripFences(strings.TrimSpace(text))

	if start := strings.IndexByte(text, '{'); start > 0 && !looksLikeMembers(text[:start]) {
		text = text[start:]
	}
	if strings.HasPrefix(text, "{") {
		if end := topLevelEnd(text); end > 0 {
			text = text[:end]
		}
	} else {
		text = "{" + text
	}
	return strings.TrimSpace(text)
}

func stripFences(text string) string {
	if strings.HasPrefix(text, "```") {
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = strings.TrimLeft(text[3:], "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// looksLikeMembers reports whether a prefix already contains "key": pairs, in
// which case it belongs to the document instead of being prose.
func looksLikeMembers(prefix string) bool {
	return strings.Contains(prefix, `":`) || strings.Contains(prefix, `" :`) ||
		strings.Contains(prefix, `':`) || strings.Contains(prefix, `' :`)
}

// topLevelEnd returns the offset just past the brace closing the object that
// opens text, or -1 when the object never closes.
func topLevelEnd(text string) int {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
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

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isSingleQuote(r rune) bool {
	return r == '\'' || r == '‘' || r == '’'
}

// normalizeQuotes turns typographic and single-quote string delimiters into
// double quotes. A quote between two word characters is an apostrophe and is
// left alone.
func normalizeQuotes(text string) string {
	if !strings.ContainsAny(text, "'‘’“”") {
		return text
	}
	runes := []rune(text)
	flanked := func(i int) bool {
		return i > 0 && i+1 < len(runes) && isWordRune(runes[i-1]) && isWordRune(runes[i+1])
	}

	var b strings.Builder
	b.Grow(len(text))
	const (
		outside = iota
		inDouble
		inSingle
	)
	state := outside
	escaped := false
	for i, r := range runes {
		switch state {
		case outside:
			switch {
			case r == '"' || r == '“' || r == '”':
				b.WriteByte('"')
				state = inDouble
			case isSingleQuote(r) && !flanked(i):
				b.WriteByte('"')
				state = inSingle
			default:
				b.WriteRune(r)
			}
		case inDouble:
			switch {
			case escaped:
				escaped = false
				b.WriteRune(r)
			case r == '\\':
				escaped = true
				b.WriteRune(r)
			case r == '"' || (r == '”' && closesTypographic(runes, i)):
				b.WriteByte('"')
				state = outside
			default:
				b.WriteRune(r)
			}
		case inSingle:
			switch {
			case escaped:
				escaped = false
				if !isSingleQuote(r) {
					b.WriteByte('\\')
				}
				b.WriteRune(r)
			case r == '\\':
				escaped = true
			case r == '"':
				b.WriteString(`\"`)
			case isSingleQuote(r) && !flanked(i):
				b.WriteByte('"')
				state = outside
			default:
				b.WriteRune(r)
			}
		}
	}
	if escaped && state == inSingle {
		b.WriteByte('\\')
	}
	return b.String()
}

// closesTypographic reports whether a right double quote inside a string is
// acting as its delimiter: it must be followed by a structural character.
func closesTypographic(runes []rune, i int) bool {
	for j := i + 1; j < len(runes); j++ {
		switch runes[j] {
		case ' ', '\t', '\r', '\n':
			continue
		case ',', ':', '}', ']':
			return true
		default:
			return false
		}
	}
	return true
}

// stripControl removes control and invisible characters. Inside strings,
// newlines and tabs survive as JSON escapes and invalid escapes are doubled.
func stripControl(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString, escaped := false, false
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r == utf8.RuneError && size <= 1 {
			continue
		}
		if r == '\uFEFF' || r == '\u200B' || r == '\u200C' || r == '\u200D' || r == '\u2060' {
			continue
		}

		if !inString {
			if r < 0x20 && r != '\n' && r != '\r' && r != '\t' || r == 0x7f {
				continue
			}
			if r == '"' {
				inString = true
			}
			b.WriteRune(r)
			continue
		}

		if r < 0x20 || r == 0x7f {
			letter := controlEscape(r)
			if letter == 0 {
				continue
			}
			if !escaped {
				b.WriteByte('\\')
			}
			escaped = false
			b.WriteByte(letter)
			continue
		}

		switch {
		case escaped:
			escaped = false
			if !validEscape(r, text[i:]) {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		case r == '\\':
			escaped = true
			b.WriteByte('\\')
		case r == '"':
			inString = false
			b.WriteByte('"')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func controlEscape(r rune) byte {
	switch r {
	case '\n':
		return 'n'
	case '\r':
		return 'r'
	case '\t':
		return 't'
	case '\b':
		return 'b'
	case '\f':
		return 'f'
	}
	return 0
}

func validEscape(r rune, rest string) bool {
	switch r {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if len(rest) < 4 {
			return false
		}
		for i := 0; i < 4; i++ {
			if !isHex(rest[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '-' || c == ' '
}

// quoteKeys wraps bare identifier keys ({summary: ...}) in double quotes.
func quoteKeys(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 16)
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
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
			b.WriteByte(c)
			continue
		}
		b.WriteByte(c)
		switch c {
		case '"':
			inString = true
		case '{', ',':
			j := i + 1
			for j < len(text) && isSpace(text[j]) {
				j++
			}
			if j >= len(text) || !isIdentStart(text[j]) {
				continue
			}
			k := j
			for k < len(text) && isIdentPart(text[k]) {
				k++
			}
			key := strings.TrimRight(text[j:k], " ")
			colon := j + len(key)
			for colon < len(text) && isSpace(text[colon]) {
				colon++
			}
			if colon >= len(text) || text[colon] != ':' {
				continue
			}
			b.WriteString(text[i+1 : j])
			b.WriteByte('"')
			b.WriteString(key)
			b.WriteByte('"')
			i = j + len(key) - 1
		}
	}
	return b.String()
}

// dropTrailingSeparators removes commas that precede a closer or another comma.
func dropTrailingSeparators(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
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
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(text) && isSpace(text[j]) {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']' || text[j] == ',') {
				continue
			}
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}

var literalFixes = map[string]string{
	"True":      "true",
	"False":     "false",
	"None":      "null",
	"undefined": "null",
	"NaN":       "null",
}

// fixLiterals rewrites Python and JavaScript literals outside strings.
func fixLiterals(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
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
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if isIdentStart(c) && (i == 0 || !isWordByte(text[i-1])) {
			j := i
			for j < len(text) && isWordByte(text[j]) {
				j++
			}
			word := text[i:j]
			if fixed, ok := literalFixes[word]; ok {
				b.WriteString(fixed)
			} else {
				b.WriteString(word)
			}
			i = j - 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// insertMissingCommas adds the separator models drop between members written
// on consecutive lines ("a": 1\n"b": 2).
func insertMissingCommas(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 16)
	inString, escaped := false, false
	valueEnded := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				valueEnded = true
			}
			b.WriteByte(c)
			continue
		}
		if isSpace(c) {
			b.WriteByte(c)
			continue
		}
		if valueEnded && (c == '"' || c == '{' || c == '[') && precededByNewline(text, i) {
			b.WriteByte(',')
		}
		switch {
		case c == '"':
			inString = true
			valueEnded = false
		case c == '}' || c == ']':
			valueEnded = true
		case isWordByte(c) || c == '.':
			valueEnded = true
		default:
			valueEnded = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

func precededByNewline(text string, i int) bool {
	for j := i - 1; j >= 0 && isSpace(text[j]); j-- {
		if text[j] == '\n' {
			return true
		}
	}
	return false
}

var bareScalar = regexp.MustCompile(`^(?:true|false|null|-?(?:0|[1-9][0-9]*)(?:\.[0-9]+)?(?:[eE][-+]?[0-9]+)?)$`)

type frame struct {
	open    byte
	element bool // the container is an element of an array
	wantKey bool
}

func (f frame) closer() byte {
	if f.open == '[' {
		return ']'
	}
	return '}'
}

// balance closes what a truncated reply left open. When the text ends inside
// an unfinished element, it is cut back to the last complete one first: a
// member of a keyed object, an array element, or a whole container that is
// itself an array element. Stray closers are dropped and mismatched ones are
// preceded by the closers they skip.
func balance(text string) string {
	var out bytes.Buffer
	out.Grow(len(text) + 8)

	var stack []frame
	safeAt := -1
	var safeStack []frame
	inString, escaped, isKey := false, false, false
	inToken := false
	tokenStart := 0

	markComplete := func() {
		if len(stack) == 0 {
			return
		}
		parent := stack[len(stack)-1]
		if parent.open == '[' || !parent.element {
			safeAt = out.Len()
			safeStack = append(safeStack[:0], stack...)
		}
	}
	endToken := func() {
		if !inToken {
			return
		}
		inToken = false
		if len(stack) > 0 && stack[len(stack)-1].open == '{' && stack[len(stack)-1].wantKey {
			return
		}
		markComplete()
	}
	closeTop := func() {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out.WriteByte(top.closer())
		if len(stack) == 0 {
			safeAt = out.Len()
			safeStack = safeStack[:0]
			return
		}
		markComplete()
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				if !isKey {
					markComplete()
				}
			}
			continue
		}

		switch c {
		case '"':
			endToken()
			inString = true
			isKey = len(stack) > 0 && stack[len(stack)-1].open == '{' && stack[len(stack)-1].wantKey
			out.WriteByte(c)
		case '{', '[':
			endToken()
			element := len(stack) > 0 && stack[len(stack)-1].open == '['
			stack = append(stack, frame{open: c, element: element, wantKey: c == '{'})
			out.WriteByte(c)
			if len(stack) == 1 {
				safeAt = out.Len()
				safeStack = append(safeStack[:0], stack...)
			}
		case '}', ']':
			endToken()
			match := -1
			for j := len(stack) - 1; j >= 0; j-- {
				if stack[j].closer() == c {
					match = j
					break
				}
			}
			if match < 0 {
				continue
			}
			for len(stack) > match {
				closeTop()
			}
			if len(stack) == 0 {
				return out.String()
			}
		case ':':
			endToken()
			if len(stack) > 0 && stack[len(stack)-1].open == '{' {
				stack[len(stack)-1].wantKey = false
			}
			out.WriteByte(c)
		case ',':
			endToken()
			if len(stack) > 0 && stack[len(stack)-1].open == '{' {
				stack[len(stack)-1].wantKey = true
			}
			out.WriteByte(c)
		default:
			if isSpace(c) {
				endToken()
			} else if !inToken {
				inToken = true
				tokenStart = out.Len()
			}
			out.WriteByte(c)
		}
	}
	if !inString && inToken && bareScalar.Match(out.Bytes()[tokenStart:]) {
		endToken()
	}
	if !inString && len(stack) == 0 {
		return out.String()
	}
	if safeAt < 0 {
		return out.String()
	}

	repaired := strings.TrimRight(string(out.Bytes()[:safeAt]), " \t\r\n")
	var b strings.Builder
	b.Grow(len(repaired) + len(safeStack))
	b.WriteString(repaired)
	for j := len(safeStack) - 1; j >= 0; j-- {
		b.WriteByte(safeStack[j].closer())
	}
	return b.String()
}

// reencodeNested replaces string values that hold a serialized document with
// the document itself, provided the fragment parses after repair.
func reencodeNested(text string) string {
	if !strings.Contains(text, `"{`) && !strings.Contains(text, `"[`) &&
		!strings.Contains(text, `" {`) && !strings.Contains(text, `" [`) {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		c := text[i]
		if c != '"' {
			b.WriteByte(c)
			i++
			continue
		}
		end := stringEnd(text, i)
		if end < 0 {
			b.WriteString(text[i:])
			break
		}
		token := text[i:end]
		i = end
		if replacement, ok := nestedDocument(token, text[end:]); ok {
			b.WriteString(replacement)
			continue
		}
		b.WriteString(token)
	}
	return b.String()
}

// stringEnd returns the offset just past the string literal opening at start.
func stringEnd(text string, start int) int {
	escaped := false
	for i := start + 1; i < len(text); i++ {
		switch {
		case escaped:
			escaped = false
		case text[i] == '\\':
			escaped = true
		case text[i] == '"':
			return i + 1
		}
	}
	return -1
}

func nestedDocument(token, rest string) (string, bool) {
	if next := strings.TrimLeft(rest, " \t\r\n"); strings.HasPrefix(next, ":") {
		return "", false
	}
	var content string
	if err := json.Unmarshal([]byte(token), &content); err != nil {
		return "", false
	}
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "{") && !strings.HasPrefix(content, "[") {
		return "", false
	}
	if closesEarly(normalizeQuotes(content)) {
		return "", false
	}

	fragment := repairBody(content, LevelAggressive)
	decoder := json.NewDecoder(strings.NewReader(fragment))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil || decoder.More() {
		return "", false
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return "", false
	}
	return strings.TrimSpace(buf.String()), true
}

// closesEarly reports whether the outermost container of text closes before
// the end, with more than whitespace after it. Prose such as "[1] see 12."
// must stay a string.
func closesEarly(text string) bool {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
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
			if depth <= 0 {
				return strings.TrimSpace(text[i+1:]) != ""
			}
		}
	}
	return false
}
