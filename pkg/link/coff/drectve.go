package coff

import "strings"

// Drectve is one parsed PE `.drectve` directive (spec §4.6+): linker
// command-line-equivalent tokens some PE object producers embed directly
// in the object so the final link doesn't need the original command line.
type Drectve struct {
	Export string // -export:<symbol>
	Attr   string // -attr:<symbol>,<flags>
	Heap   string // -heap:<reserve>[,<commit>]
	Stack  string // -stack:<reserve>[,<commit>]
}

// ParseDrectve tokenizes a `.drectve` section's contents (a single
// whitespace-separated string of `-flag:value` tokens) into the
// directives this linker understands, ignoring any token it doesn't
// recognize rather than treating it as an error: real `.drectve` sections
// carry many MSVC-specific flags outside this linker's scope.
func ParseDrectve(contents []byte) []Drectve {
	var out []Drectve
	for _, tok := range strings.Fields(string(contents)) {
		tok = strings.TrimPrefix(tok, "/")
		tok = strings.TrimPrefix(tok, "-")
		switch {
		case strings.HasPrefix(tok, "export:"):
			out = append(out, Drectve{Export: strings.TrimPrefix(tok, "export:")})
		case strings.HasPrefix(tok, "attr:"):
			out = append(out, Drectve{Attr: strings.TrimPrefix(tok, "attr:")})
		case strings.HasPrefix(tok, "heap:"):
			out = append(out, Drectve{Heap: strings.TrimPrefix(tok, "heap:")})
		case strings.HasPrefix(tok, "stack:"):
			out = append(out, Drectve{Stack: strings.TrimPrefix(tok, "stack:")})
		}
	}
	return out
}
