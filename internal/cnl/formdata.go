package cnl

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// FormData is the key/value payload of a link submission. Bodies that cannot
// be decoded into keys are kept whole under "rawData".
type FormData map[string]any

// Links returns the link payload a submission carries: the encrypted blob for
// addcrypted2 posts, the plain url list otherwise.
func (f FormData) Links() string {
	for _, key := range []string{"crypted", "urls"} {
		if v, ok := f[key]; ok {
			if s := fmt.Sprint(v); s != "" && v != nil {
				return s
			}
		}
	}
	return ""
}

// String returns the value stored under key as a string, or "".
func (f FormData) String(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ExtractFormData decodes a request body. It accepts decoded objects, form
// maps, JSON strings and form-encoded strings, and falls back to rawData.
func ExtractFormData(body any, contentType string) FormData {
	switch b := body.(type) {
	case nil:
		return nil
	case FormData:
		return b
	case map[string]any:
		return FormData(b)
	case map[string]string:
		out := make(FormData, len(b))
		for k, v := range b {
			out[k] = v
		}
		return out
	case url.Values:
		return fromValues(b)
	case []byte:
		if len(b) == 0 {
			return nil
		}
		return fromString(string(b), contentType)
	case string:
		if b == "" {
			return nil
		}
		return fromString(b, contentType)
	default:
		return FormData{"rawData": fmt.Sprint(b)}
	}
}

func fromValues(v url.Values) FormData {
	out := make(FormData, len(v))
	for k, vals := range v {
		if len(vals) == 0 {
			out[k] = ""
			continue
		}
		// Repeated keys collapse to the last value.
		out[k] = vals[len(vals)-1]
	}
	return out
}

func fromString(s, contentType string) FormData {
	// JSON bodies often arrive labelled as form posts, so JSON wins.
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			return FormData(obj)
		}
	}

	if strings.Contains(strings.ToLower(contentType), "application/x-www-form-urlencoded") {
		if v, err := url.ParseQuery(s); err == nil {
			return fromValues(v)
		}
	}

	if looksFormEncoded(trimmed) {
		if v, err := url.ParseQuery(trimmed); err == nil && len(v) > 0 {
			return fromValues(v)
		}
	}
	return FormData{"rawData": s}
}

func looksFormEncoded(s string) bool {
	if s == "" || strings.ContainsAny(s, " \n\t{}") {
		return false
	}
	first := strings.SplitN(s, "&", 2)[0]
	eq := strings.Index(first, "=")
	return eq > 0
}
