// Package mapping implements the configuration-driven field-mapping engines.
// A declarative EntityMapping locates the record array inside a parsed vendor
// response (JSON tree or XML document), extracts typed fields via path
// expressions, applies transforms and defaults, and hands each record to a
// caller-supplied constructor. Records missing required fields are skipped,
// never fatal for the batch.
package mapping

import (
	"strconv"
	"strings"
)

// EvalPath resolves a JSON-path-lite expression against a parsed response
// tree. Exposed for the pagination engine's cursor and has-more lookups.
func EvalPath(root interface{}, expr string) (interface{}, bool) {
	return evalJSONPath(root, expr)
}

// evalJSONPath resolves a JSON-path-lite expression against a parsed JSON
// tree (maps, slices, scalars). Supported: leading "$." anchor, dotted object
// traversal, "[n]" index access and "[*]" wildcards. A wildcard projects the
// remaining path over every element, yielding a slice of the matches. The
// boolean is false when the path resolves to nothing.
func evalJSONPath(root interface{}, expr string) (interface{}, bool) {
	expr = strings.TrimSpace(expr)
	expr = strings.TrimPrefix(expr, "$.")
	expr = strings.TrimPrefix(expr, "$")
	if expr == "" {
		return root, root != nil
	}
	return walkSegments(root, strings.Split(expr, "."))
}

func walkSegments(current interface{}, segments []string) (interface{}, bool) {
	for si, segment := range segments {
		name, indexes := splitSegment(segment)

		if name != "" {
			obj, ok := current.(map[string]interface{})
			if !ok {
				return nil, false
			}
			current, ok = obj[name]
			if !ok {
				return nil, false
			}
		}

		for ii, index := range indexes {
			if index == "*" {
				list, ok := current.([]interface{})
				if !ok {
					return nil, false
				}
				return projectWildcard(list, indexes[ii+1:], segments[si+1:])
			}
			n, err := strconv.Atoi(index)
			if err != nil {
				return nil, false
			}
			list, ok := current.([]interface{})
			if !ok || n < 0 || n >= len(list) {
				return nil, false
			}
			current = list[n]
		}
	}

	return current, current != nil
}

// projectWildcard applies the path remainder after a "[*]" to every element,
// skipping elements where it does not resolve.
func projectWildcard(list []interface{}, indexes, segments []string) (interface{}, bool) {
	if len(indexes) == 0 && len(segments) == 0 {
		return list, true
	}

	remainder := segments
	if len(indexes) > 0 {
		var synthetic strings.Builder
		for _, index := range indexes {
			synthetic.WriteString("[" + index + "]")
		}
		remainder = append([]string{synthetic.String()}, segments...)
	}

	out := make([]interface{}, 0, len(list))
	for _, item := range list {
		if v, ok := walkSegments(item, remainder); ok {
			out = append(out, v)
		}
	}
	return out, true
}

// splitSegment splits "items[0]" into ("items", ["0"]) and "[*]" into
// ("", ["*"]).
func splitSegment(segment string) (string, []string) {
	open := strings.IndexByte(segment, '[')
	if open < 0 {
		return segment, nil
	}

	name := segment[:open]
	var indexes []string
	rest := segment[open:]
	for strings.HasPrefix(rest, "[") {
		close := strings.IndexByte(rest, ']')
		if close < 0 {
			break
		}
		indexes = append(indexes, rest[1:close])
		rest = rest[close+1:]
	}
	return name, indexes
}

// asList normalizes a located array value: a slice passes through, a single
// object is treated as a one-element batch.
func asList(v interface{}) []interface{} {
	switch list := v.(type) {
	case []interface{}:
		return list
	case nil:
		return nil
	default:
		return []interface{}{v}
	}
}
