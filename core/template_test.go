package core

import "testing"

func TestSprintf(t *testing.T) {
	record := NewRecord()
	record.Set("host", "web-1")
	record.Set("path", "/var/log/orders.log")
	record.Set("type", "orders")
	record.Set("count", float64(2))
	record.Set("nothing", nil)
	record.Set("nested", map[string]any{"a": "b"})

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{name: "stream identity", template: "%{host}.%{path}.%{type}", expected: "web-1./var/log/orders.log.orders"},
		{name: "missing field", template: "%{host}.%{missing}.%{type}", expected: "web-1..orders"},
		{name: "null field", template: "[%{nothing}]", expected: "[]"},
		{name: "number", template: "n=%{count}", expected: "n=2"},
		{name: "nested ref", template: "%{[nested][a]}", expected: "b"},
		{name: "object", template: "%{nested}", expected: `{"a":"b"}`},
		{name: "no references", template: "static", expected: "static"},
		{name: "unterminated", template: "%{host", expected: "%{host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sprintf(tt.template, record); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSprintfAllMissing(t *testing.T) {
	if got := Sprintf("%{host}.%{path}.%{type}", NewRecord()); got != ".." {
		t.Errorf("got %q, want %q", got, "..")
	}
}
