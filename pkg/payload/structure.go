package payload

import (
	"bytes"
	"encoding/xml"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
)

// Structure is a format-agnostic summary of a payload. Names are case-folded
// and deduplicated; for JSON they are object keys (one nesting level deep),
// for XML element and attribute names, for text the tokens of the first lines.
type Structure struct {
	Object         bool
	Array          bool
	Null           bool
	ArrayOfObjects bool

	// Records is set for line-oriented text whose lines share a delimiter
	// with a constant field count.
	Records   bool
	Delimiter rune

	KeyCount     int
	Names        []string
	NumericNames []string
}

// HasName reports whether any name contains term as a substring.
func (s Structure) HasName(term string) bool {
	for _, n := range s.Names {
		if strings.Contains(n, term) {
			return true
		}
	}
	return false
}

// HasNumericName reports whether any numeric-valued key contains term.
func (s Structure) HasNumericName(term string) bool {
	for _, n := range s.NumericNames {
		if strings.Contains(n, term) {
			return true
		}
	}
	return false
}

var delimiters = []rune{',', '\t', ';', '|'}

type nameSet struct {
	fold  cases.Caser
	seen  map[string]bool
	names []string
}

func newNameSet() *nameSet {
	return &nameSet{fold: cases.Fold(), seen: make(map[string]bool)}
}

func (n *nameSet) add(name string) string {
	name = strings.TrimSpace(n.fold.String(name))
	if name == "" {
		return ""
	}
	if !n.seen[name] {
		n.seen[name] = true
		n.names = append(n.names, name)
	}
	return name
}

func summarize(kind Kind, trimmed []byte) Structure {
	switch kind {
	case KindJSON:
		return summarizeJSON(gjson.ParseBytes(trimmed))
	case KindXML:
		return summarizeXML(trimmed)
	case KindText:
		return summarizeText(trimmed)
	default:
		return Structure{}
	}
}

func summarizeJSON(root gjson.Result) Structure {
	var s Structure
	names := newNameSet()
	numeric := newNameSet()

	switch {
	case root.IsObject():
		s.Object = true
		s.KeyCount = walkObject(root, names, numeric, 1)
	case root.IsArray():
		s.Array = true
		root.ForEach(func(_, first gjson.Result) bool {
			if first.IsObject() {
				s.ArrayOfObjects = true
				s.KeyCount = walkObject(first, names, numeric, 1)
			}
			return false
		})
	case root.Type == gjson.Null:
		s.Null = true
	}

	s.Names = names.names
	s.NumericNames = numeric.names
	return s
}

// walkObject records the keys of obj and, up to depth further levels, of its
// nested objects. It returns the number of keys directly under obj.
func walkObject(obj gjson.Result, names, numeric *nameSet, depth int) int {
	count := 0
	obj.ForEach(func(key, value gjson.Result) bool {
		count++
		name := names.add(key.String())
		if value.Type == gjson.Number && name != "" {
			numeric.add(name)
		}
		if depth > 0 && value.IsObject() {
			walkObject(value, names, numeric, depth-1)
		}
		return true
	})
	return count
}

func summarizeXML(trimmed []byte) Structure {
	window := trimmed
	if len(window) > ScanLimit {
		window = window[:ScanLimit]
	}
	s := Structure{Object: true}
	names := newNameSet()
	children := make(map[string]bool)

	dec := xml.NewDecoder(bytes.NewReader(window))
	dec.Strict = false
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			name := names.add(t.Name.Local)
			if depth == 2 && name != "" {
				children[name] = true
			}
			for _, a := range t.Attr {
				names.add(a.Name.Local)
			}
		case xml.EndElement:
			depth--
		}
	}

	s.KeyCount = len(children)
	s.Names = names.names
	return s
}

func summarizeText(trimmed []byte) Structure {
	var s Structure
	lines := splitLines(trimmed, maxScanLines)
	names := newNameSet()
	for _, line := range lines {
		for _, tok := range strings.FieldsFunc(line, isTokenSeparator) {
			names.add(tok)
		}
	}
	s.Names = names.names
	if d, ok := DetectDelimiter(lines); ok {
		s.Records = true
		s.Delimiter = d
	}
	return s
}

func isTokenSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}

// DetectDelimiter picks the delimiter that splits every line into the same
// number of fields, preferring the one yielding the most fields. At least two
// lines are required.
func DetectDelimiter(lines []string) (rune, bool) {
	if len(lines) < 2 {
		return 0, false
	}
	if len(lines) > 5 {
		lines = lines[:5]
	}
	var best rune
	bestCount := 0
	for _, d := range delimiters {
		want := countOutsideQuotes(lines[0], d)
		if want == 0 {
			continue
		}
		consistent := true
		for _, l := range lines[1:] {
			if countOutsideQuotes(l, d) != want {
				consistent = false
				break
			}
		}
		if consistent && want > bestCount {
			best, bestCount = d, want
		}
	}
	return best, bestCount > 0
}

func countOutsideQuotes(line string, d rune) int {
	n := 0
	quoted := false
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == d && !quoted:
			n++
		}
	}
	return n
}
