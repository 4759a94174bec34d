package core

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/spf13/cast"
	"github.com/valyala/fasttemplate"
)

const (
	templateStart = "%{"
	templateEnd   = "}"
)

// Sprintf formats template against record. Each %{ref} is replaced with the
// value of the field reference ref; missing and null fields render as "".
// A template with an unterminated reference is returned as is.
func Sprintf(template string, record *Record) string {
	if !strings.Contains(template, templateStart) {
		return template
	}

	out, err := fasttemplate.ExecuteFuncStringWithErr(template, templateStart, templateEnd, func(w io.Writer, tag string) (int, error) {
		value, ok := record.Lookup(tag)
		if !ok || value == nil {
			return 0, nil
		}
		return w.Write([]byte(FormatValue(value)))
	})
	if err != nil {
		return template
	}
	return out
}

// FormatValue renders a field value as text: strings verbatim, scalars in
// their natural form, arrays and objects as compact JSON.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any, []string, *Record:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}

	if s, err := cast.ToStringE(value); err == nil {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(data)
}
