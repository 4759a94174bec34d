package stages

import "github.com/creastat/collate/core"

// Subdocument is the projection of a record onto a configured field list
type Subdocument map[string]any

// Project returns a new subdocument holding only the listed fields that are
// present on record. Missing fields are omitted, not null-filled. Values are
// deep-copied, so the subdocument never aliases the record.
func Project(record *core.Record, fields []string) Subdocument {
	sub := make(Subdocument, len(fields))
	for _, field := range fields {
		if field == core.MetadataField {
			sub[field] = record.Metadata()
			continue
		}
		if value, ok := record.Get(field); ok {
			sub[field] = core.CopyValue(value)
		}
	}
	return sub
}
