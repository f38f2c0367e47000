package behavior

import (
	"encoding/json"
	"strings"
)

var defaultSensitiveKeys = []string{"password", "token", "credit", "card"}

// masker replaces the values of keys that contain any sensitive fragment,
// at any depth.
type masker struct {
	keys []string
}

func newMasker(extra []string) masker {
	keys := make([]string, 0, len(defaultSensitiveKeys)+len(extra))
	for _, k := range append(append([]string(nil), defaultSensitiveKeys...), extra...) {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keys = append(keys, k)
		}
	}
	return masker{keys: keys}
}

func (m masker) sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, k := range m.keys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

// apply masks v in place and returns it.
func (m masker) apply(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if m.sensitive(k) {
				t[k] = maskToken
				continue
			}
			t[k] = m.apply(val)
		}
	case []any:
		for i, val := range t {
			t[i] = m.apply(val)
		}
	}
	return v
}

// toMap converts a payload to its generic JSON form. Values that are not
// objects are wrapped under "value".
func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if m, ok := out.(map[string]any); ok {
		return m, nil
	}
	if out == nil {
		return nil, nil
	}
	return map[string]any{"value": out}, nil
}
