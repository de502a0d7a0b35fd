package pointer

import (
	"fmt"
	"strconv"
	"strings"
)

// EvalJSONPointer evaluates an RFC 6901 pointer against a decoded JSON
// document. The empty pointer addresses the whole document.
func EvalJSONPointer(doc any, ptr string) (any, error) {
	if ptr == "" {
		return doc, nil
	}
	if !strings.HasPrefix(ptr, "/") {
		return nil, fmt.Errorf("json pointer %q must start with '/'", ptr)
	}
	cur := doc
	for _, raw := range strings.Split(ptr[1:], "/") {
		tok := strings.ReplaceAll(strings.ReplaceAll(raw, "~1", "/"), "~0", "~")
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[tok]
			if !ok {
				return nil, fmt.Errorf("key %q not found", tok)
			}
			cur = v
		case []any:
			if tok == "-" || (len(tok) > 1 && tok[0] == '0') {
				return nil, fmt.Errorf("invalid array index %q", tok)
			}
			i, err := strconv.Atoi(tok)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("array index %q out of range", tok)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("cannot descend into scalar at %q", tok)
		}
	}
	return cur, nil
}
