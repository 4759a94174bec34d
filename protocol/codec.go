package protocol

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/creastat/collate/core"
)

// MessageField receives the raw text of lines that are not JSON objects
const MessageField = "message"

// ParseFailureTag marks records whose line looked like JSON but did not parse
const ParseFailureTag = "_jsonparsefailure"

// ErrEmptyLine is returned for lines with no content
var ErrEmptyLine = errors.New("empty line")

// DecodeLine turns one input line into a record.
// JSON objects keep their field order; anything else is wrapped as {"message": line}.
func DecodeLine(line []byte) (*core.Record, error) {
	line = bytes.TrimRight(line, "\r\n")
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, ErrEmptyLine
	}

	if trimmed[0] == '{' {
		record := core.NewRecord()
		if err := json.Unmarshal(trimmed, record); err == nil {
			return record, nil
		}
		record = core.NewRecord()
		record.Set(MessageField, string(line))
		record.Tag(ParseFailureTag)
		return record, nil
	}

	record := core.NewRecord()
	record.Set(MessageField, string(line))
	return record, nil
}

// EncodeRecord renders a record as a single JSON line without the trailing newline
func EncodeRecord(record *core.Record) ([]byte, error) {
	return json.Marshal(record)
}
