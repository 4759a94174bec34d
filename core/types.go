package core

// EventType categorizes pipeline events
type EventType string

const (
	EventTypeRecord EventType = "record"
	EventTypeFlush  EventType = "flush"
	EventTypeError  EventType = "error"
	EventTypeDone   EventType = "done"
)

// TagsField is the record field that carries tags
const TagsField = "tags"

// MetadataField names the record metadata when referenced from a field list
const MetadataField = "@metadata"
