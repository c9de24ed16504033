// Package naming converts JSON-side names into proto identifiers.
package naming

import (
	"strconv"
	"strings"
	"unicode"
)

// words splits s on non-alphanumerics and on lower-to-upper case changes.
// Runs of capitals stay together: "HTTPServer" → ["HTTP", "Server"].
func words(s string) []string {
	var out []string
	rs := []rune(s)
	start := -1
	flush := func(end int) {
		if start >= 0 && end > start {
			out = append(out, string(rs[start:end]))
		}
		start = -1
	}
	for i, r := range rs {
		if !isAlnum(r) {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		prev := rs[i-1]
		switch {
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			flush(i)
			start = i
		case unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(rs) && unicode.IsLower(rs[i+1]):
			flush(i)
			start = i
		}
	}
	flush(len(rs))
	return out
}

func isAlnum(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func capitalize(w string) string {
	if w == "" {
		return w
	}
	return strings.ToUpper(w[:1]) + w[1:]
}

// TypeName renders a dictionary or synthesized name as a PascalCase message
// or enum name. All-caps words are folded: BLOCK_HEADER → BlockHeader.
func TypeName(s string) string {
	var b strings.Builder
	for _, w := range words(s) {
		if strings.ToUpper(w) == w {
			w = strings.ToLower(w)
		}
		b.WriteString(capitalize(w))
	}
	out := b.String()
	if out == "" {
		return "Type"
	}
	if unicode.IsDigit(rune(out[0])) {
		return "T" + out
	}
	return out
}

// Pascal capitalizes each word of s without folding the rest of the word.
func Pascal(s string) string {
	var b strings.Builder
	for _, w := range words(s) {
		b.WriteString(capitalize(w))
	}
	return b.String()
}

// SnakeCase lowercases s and joins its words with underscores.
func SnakeCase(s string) string {
	ws := words(s)
	for i, w := range ws {
		ws[i] = strings.ToLower(w)
	}
	return strings.Join(ws, "_")
}

var reserved = map[string]bool{
	"type": true, "ref": true,
	"syntax": true, "import": true, "weak": true, "public": true, "package": true,
	"option": true, "message": true, "enum": true, "service": true, "rpc": true,
	"returns": true, "stream": true, "oneof": true, "map": true, "reserved": true,
	"extensions": true, "extend": true, "repeated": true, "optional": true,
	"required": true, "group": true, "to": true, "max": true,
}

// FieldName is the proto identifier for a JSON property name.
func FieldName(json string) string {
	s := SnakeCase(json)
	switch {
	case s == "":
		return "field"
	case unicode.IsDigit(rune(s[0])):
		return "f_" + s
	case reserved[s]:
		return s + "_"
	}
	return s
}

// EnumValueName uppercases a literal and replaces non-alphanumerics with '_'.
func EnumValueName(lit string) string {
	var b strings.Builder
	for _, r := range lit {
		if isAlnum(r) {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "EMPTY"
	}
	return b.String()
}

// UpperSnake renders a type name as an enum value prefix: BlockStatus → BLOCK_STATUS.
func UpperSnake(s string) string {
	return strings.ToUpper(SnakeCase(s))
}

// RPCName strips prefix from a method name and renders the rest in
// PascalCase. Snake-case names are folded word by word; camelCase names only
// get their first letter capitalized.
func RPCName(method, prefix string) string {
	s := method
	if prefix != "" {
		s = strings.TrimPrefix(s, prefix)
	}
	if strings.Contains(s, "_") {
		var b strings.Builder
		for _, w := range strings.Split(s, "_") {
			b.WriteString(capitalize(strings.ToLower(w)))
		}
		return b.String()
	}
	return capitalize(s)
}

// MapEntryName is the name protoc gives the implicit entry message of a map
// field.
func MapEntryName(field string) string {
	var b strings.Builder
	upperNext := true
	for _, r := range field {
		switch {
		case r == '_':
			upperNext = true
		case upperNext:
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString("Entry")
	return b.String()
}

// FoldedKey is the form protoc compares proto3 field names in: lowercase
// with underscores removed.
func FoldedKey(field string) string {
	return strings.ReplaceAll(strings.ToLower(field), "_", "")
}

// Unique returns base, or base+sep+n for the smallest n ≥ 2 that taken
// rejects.
func Unique(base, sep string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for n := 2; ; n++ {
		c := base + sep + strconv.Itoa(n)
		if !taken(c) {
			return c
		}
	}
}
