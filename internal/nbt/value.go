package nbt

import (
	"fmt"
	"math"
	"unicode/utf8"
)

// ToValue converts a tag into plain JSON-friendly data: integers become
// int64, floats float64, arrays and lists []any, compounds map[string]any.
// It fails on values JSON cannot carry (NaN, infinities, invalid UTF-8).
func ToValue(tag Tag) (any, error) {
	return toValue(tag, 0)
}

func toValue(tag Tag, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("nbt: value nested deeper than %d", maxDepth)
	}
	switch t := tag.(type) {
	case Primitive:
		return primitiveValue(t)
	case List:
		out := make([]any, len(t.Items))
		for i, it := range t.Items {
			v, err := toValue(it, depth+1)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	case Compound:
		out := make(map[string]any, len(t.Fields))
		for _, f := range t.Fields {
			if !utf8.ValidString(f.Name) {
				return nil, fmt.Errorf("nbt: invalid UTF-8 in name %q", f.Name)
			}
			v, err := toValue(f.Tag, depth+1)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			out[f.Name] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("nbt: unknown tag %T", tag)
	}
}

func primitiveValue(p Primitive) (any, error) {
	switch v := p.Value.(type) {
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float32:
		return finite(float64(v))
	case float64:
		return finite(v)
	case string:
		if !utf8.ValidString(v) {
			return nil, fmt.Errorf("nbt: invalid UTF-8 in string")
		}
		return v, nil
	case []byte:
		out := make([]any, len(v))
		for i, b := range v {
			out[i] = int64(int8(b))
		}
		return out, nil
	case []int32:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = int64(n)
		}
		return out, nil
	case []int64:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("nbt: unsupported %s value %T", p.Type, p.Value)
	}
}

func finite(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("nbt: non-finite float %v", f)
	}
	return f, nil
}
