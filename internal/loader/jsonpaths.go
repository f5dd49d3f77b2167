package loader

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// step is one element of a JSONPath: an object key or an array index.
type step struct {
	key   string
	index int
	isIdx bool
}

// Path is a compiled JSONPath expression in the subset a bulk load accepts:
// bracket notation ($['a']['b'], $["a"]), dot notation ($.a.b) and array
// indexes ($['a'][0]). Wildcards and filters are not supported.
type Path struct {
	expr  string
	steps []step
}

func (p Path) String() string { return p.expr }

// ParsePath compiles one expression.
func ParsePath(expr string) (Path, error) {
	s := strings.TrimSpace(expr)
	if !strings.HasPrefix(s, "$") {
		return Path{}, fmt.Errorf("jsonpath %q: must start with $", expr)
	}
	p := Path{expr: s}
	i := 1
	for i < len(s) {
		switch s[i] {
		case '.':
			j := i + 1
			for j < len(s) && s[j] != '.' && s[j] != '[' {
				j++
			}
			if j == i+1 {
				return Path{}, fmt.Errorf("jsonpath %q: empty key at offset %d", expr, i)
			}
			p.steps = append(p.steps, step{key: s[i+1 : j]})
			i = j
		case '[':
			if i+1 >= len(s) {
				return Path{}, fmt.Errorf("jsonpath %q: unterminated [", expr)
			}
			if q := s[i+1]; q == '\'' || q == '"' {
				end := strings.IndexByte(s[i+2:], q)
				if end < 0 {
					return Path{}, fmt.Errorf("jsonpath %q: unterminated quote", expr)
				}
				key := s[i+2 : i+2+end]
				next := i + 2 + end + 1
				if next >= len(s) || s[next] != ']' {
					return Path{}, fmt.Errorf("jsonpath %q: expected ] after key %q", expr, key)
				}
				p.steps = append(p.steps, step{key: key})
				i = next + 1
				continue
			}
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return Path{}, fmt.Errorf("jsonpath %q: unterminated [", expr)
			}
			n, err := strconv.Atoi(strings.TrimSpace(s[i+1 : i+end]))
			if err != nil || n < 0 {
				return Path{}, fmt.Errorf("jsonpath %q: bad array index %q", expr, s[i+1:i+end])
			}
			p.steps = append(p.steps, step{index: n, isIdx: true})
			i += end + 1
		default:
			return Path{}, fmt.Errorf("jsonpath %q: unexpected %q at offset %d", expr, s[i], i)
		}
	}
	if len(p.steps) == 0 {
		return Path{}, fmt.Errorf("jsonpath %q: selects the whole record", expr)
	}
	return p, nil
}

// Eval returns the value at p in obj. A path that runs into a missing key,
// a short array or a scalar yields nil.
func (p Path) Eval(obj map[string]any) any {
	var cur any = obj
	for _, st := range p.steps {
		switch v := cur.(type) {
		case map[string]any:
			if st.isIdx {
				return nil
			}
			cur = v[st.key]
		case []any:
			if !st.isIdx || st.index >= len(v) {
				return nil
			}
			cur = v[st.index]
		default:
			return nil
		}
	}
	return cur
}

// ParseJSONPaths reads a JSONPaths document: {"jsonpaths": ["$['a']", ...]}.
func ParseJSONPaths(doc []byte) ([]Path, error) {
	var raw struct {
		JSONPaths []string `json:"jsonpaths"`
	}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("jsonpaths: %w", err)
	}
	if len(raw.JSONPaths) == 0 {
		return nil, fmt.Errorf("jsonpaths: document has no \"jsonpaths\" entries")
	}
	out := make([]Path, 0, len(raw.JSONPaths))
	for _, e := range raw.JSONPaths {
		p, err := ParsePath(e)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
