package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"zervios-cms/internal/metadata"
)

// ParseQueryParams reads a list request:
//
//	where[field][op]=value  where[field]=value  sort=-field  page=2  limit=20  depth=2
//
// Values are coerced by the field's type. in/not_in take comma separated lists.
func ParseQueryParams(c *fiber.Ctx, def *metadata.Definition) (FindQuery, error) {
	q := FindQuery{Page: 1, Limit: defaultLimit, Depth: -1, Sort: c.Query("sort")}

	for key, val := range c.Queries() {
		if !strings.HasPrefix(key, "where[") {
			continue
		}
		field, op, ok := parseWhereKey(key)
		if !ok {
			return q, InvalidPayloadError(fmt.Sprintf("Malformed query key: %s", key))
		}
		cond, err := BuildCondition(def, field, op, val)
		if err != nil {
			return q, err
		}
		q.Where = append(q.Where, cond)
	}

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			q.Page = v
		}
	}
	if l := c.Query("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			q.Limit = min(v, maxLimit)
		}
	}
	depth, err := ParseDepth(c)
	if err != nil {
		return q, err
	}
	q.Depth = depth
	return q, nil
}

// BuildCondition turns one textual filter into a condition. A filter on a
// relationship or upload field compares the referenced id.
func BuildCondition(def *metadata.Definition, field, op, val string) (metadata.Condition, error) {
	canonical, known := metadata.NormalizeOperator(op)
	if !known {
		return metadata.Condition{}, InvalidPayloadError(fmt.Sprintf("Unknown operator: %s", op))
	}
	f := fieldAt(def, field)
	if f != nil && f.Type.IsReference() && field[strings.LastIndexByte(field, '.')+1:] == f.Name {
		field += ".id"
	}
	return metadata.Condition{
		Field:    field,
		Operator: canonical,
		Value:    coerceValue(f, val, canonical),
	}, nil
}

// ParseDepth reads the depth parameter; -1 means not given.
func ParseDepth(c *fiber.Ctx) (int, error) {
	d := c.Query("depth")
	if d == "" {
		return -1, nil
	}
	v, err := strconv.Atoi(d)
	if err != nil || v < 0 {
		return 0, InvalidPayloadError(fmt.Sprintf("Invalid depth: %s", d))
	}
	return v, nil
}

// parseWhereKey splits "where[a][op]", "where[a.b][op]" and "where[a]".
func parseWhereKey(key string) (field, op string, ok bool) {
	rest := strings.TrimPrefix(key, "where")
	var parts []string
	for len(rest) > 0 {
		if rest[0] != '[' {
			return "", "", false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", "", false
		}
		parts = append(parts, rest[1:end])
		rest = rest[end+1:]
	}
	switch len(parts) {
	case 1:
		return parts[0], metadata.OpEquals, parts[0] != ""
	case 2:
		return parts[0], parts[1], parts[0] != ""
	}
	return "", "", false
}

// fieldAt returns the field addressed by the first segment of a dotted path,
// descending into array element schemas where the path does.
func fieldAt(def *metadata.Definition, path string) *metadata.Field {
	segs := strings.Split(path, ".")
	f := def.GetField(segs[0])
	for _, seg := range segs[1:] {
		if f == nil || f.Type != metadata.FieldArray {
			return f
		}
		if _, err := strconv.Atoi(seg); err == nil {
			continue
		}
		f = f.GetField(seg)
	}
	return f
}

func coerceValue(f *metadata.Field, val, op string) any {
	switch op {
	case metadata.OpIn, metadata.OpNotIn:
		parts := strings.Split(val, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = coerceSingleValue(f, strings.TrimSpace(p))
		}
		return out
	case metadata.OpExists:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return val
		}
		return b
	}
	return coerceSingleValue(f, val)
}

func coerceSingleValue(f *metadata.Field, val string) any {
	if f != nil && f.Type == metadata.FieldNumber {
		if n, err := strconv.ParseFloat(val, 64); err == nil {
			return n
		}
	}
	return val
}
