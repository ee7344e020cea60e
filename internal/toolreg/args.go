package toolreg

// Args holds validated tool arguments.
type Args map[string]any

// String returns the string argument key, or "" when absent.
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Int returns the integer argument key, or def when absent.
func (a Args) Int(key string, def int) int {
	switch n := a[key].(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case int:
		return n
	}
	return def
}

// Bool returns the boolean argument key, or def when absent.
func (a Args) Bool(key string, def bool) bool {
	if b, ok := a[key].(bool); ok {
		return b
	}
	return def
}

// StringSlice returns the string items of array argument key.
func (a Args) StringSlice(key string) []string {
	items, _ := a[key].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
