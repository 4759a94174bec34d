package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLineJSONObject(t *testing.T) {
	record, err := DecodeLine([]byte(`{"b":1,"a":"x","nested":{"k":true}}` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "nested"}, record.Keys())

	value, ok := record.Lookup("[nested][k]")
	assert.True(t, ok)
	assert.Equal(t, true, value)
}

func TestDecodeLinePlainText(t *testing.T) {
	record, err := DecodeLine([]byte("GET /index.html 200\r\n"))
	require.NoError(t, err)

	value, ok := record.Get(MessageField)
	assert.True(t, ok)
	assert.Equal(t, "GET /index.html 200", value)
	assert.Empty(t, record.Tags())
}

func TestDecodeLineMalformedJSON(t *testing.T) {
	record, err := DecodeLine([]byte(`{"broken":`))
	require.NoError(t, err)

	value, _ := record.Get(MessageField)
	assert.Equal(t, `{"broken":`, value)
	assert.True(t, record.HasTag(ParseFailureTag))
}

func TestDecodeLineEmpty(t *testing.T) {
	for _, line := range []string{"", "\n", "   \r\n"} {
		_, err := DecodeLine([]byte(line))
		assert.ErrorIs(t, err, ErrEmptyLine, "line %q", line)
	}
}

func TestEncodeRecordKeepsOrder(t *testing.T) {
	record, err := DecodeLine([]byte(`{"z":1,"y":[1,2],"x":null}`))
	require.NoError(t, err)

	data, err := EncodeRecord(record)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"y":[1,2],"x":null}`, string(data))
}
