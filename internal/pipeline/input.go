package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"orderflow/internal/domain"
)

// Input derives the pipeline-wide environment from an order: ORDER_ID,
// ORDER_JSON and one ORDER_<FIELD> per top-level payload field. Nested
// values are passed as JSON text; objects (contact, address) also get one
// ORDER_<FIELD>_<KEY> per scalar member and lists (items) an
// ORDER_<FIELD>_COUNT.
func Input(o domain.Order) map[string]string {
	env := make(map[string]string, len(o.Payload)+2)
	for key, v := range o.Payload {
		name := envName(key)
		if name == "" || name == "ID" || name == "JSON" {
			continue
		}
		env["ORDER_"+name] = o.Field(key)

		switch x := v.(type) {
		case map[string]any:
			for sub, sv := range x {
				subName := envName(sub)
				if text, ok := scalar(sv); ok && subName != "" {
					env["ORDER_"+name+"_"+subName] = text
				}
			}
		case []any:
			env["ORDER_"+name+"_COUNT"] = strconv.Itoa(len(x))
		}
	}
	env["ORDER_ID"] = o.ID.String()
	if raw, err := json.Marshal(o); err == nil {
		env["ORDER_JSON"] = string(raw)
	}
	return env
}

// Environ renders maps as KEY=VALUE pairs sorted by key, later maps
// overriding earlier ones.
func Environ(maps ...map[string]string) []string {
	merged := map[string]string{}
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

func envName(key string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(key) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToUpper(r))
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool, float64, int, int64:
		return fmt.Sprint(x), true
	default:
		return "", false
	}
}
