package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainRoundTrip(t *testing.T) {
	chain := Chain{
		{Type: SegmentPlain, Text: "hello "},
		At("42", "alice"),
		{Type: SegmentImage, URL: "https://example.com/a.png"},
	}

	data, err := json.Marshal(chain)
	require.NoError(t, err)

	var got Chain
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, chain, got)
}

func TestQuoteRoundTrip(t *testing.T) {
	chain := Chain{Quote(Plain("x"))}

	data, err := json.Marshal(chain)
	require.NoError(t, err)

	var got Chain
	require.NoError(t, json.Unmarshal(data, &got))

	require.Len(t, got, 1)
	require.Equal(t, SegmentQuote, got[0].Type)
	require.Len(t, got[0].Origin, 1)
	assert.Equal(t, "x", got[0].Origin[0].Text)
	assert.Contains(t, got.PlainText(), "x")
}

func TestPlainTextFlattening(t *testing.T) {
	tests := []struct {
		name  string
		chain Chain
		want  string
	}{
		{"plain", Plain("hi"), "hi"},
		{"mention display", Chain{At("1", "bob")}, "@bob"},
		{"mention target fallback", Chain{At("99", "")}, "@99"},
		{"at all", Chain{{Type: SegmentAtAll}}, "@all"},
		{"image marker", Chain{{Type: SegmentImage, URL: "u"}}, "[image]"},
		{"voice marker", Chain{{Type: SegmentVoice, Base64: "zz", Length: 3}}, "[voice]"},
		{"named file", Chain{{Type: SegmentFile, Name: "a.txt"}}, "[file: a.txt]"},
		{"source skipped", Chain{{Type: SegmentSource}, {Type: SegmentPlain, Text: "x"}}, "x"},
		{"quote prefix", Chain{Quote(Plain("inner"))}, "> inner\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.chain.PlainText())
		})
	}
}

func TestSegmentJSONOmitsUnsetFields(t *testing.T) {
	data, err := json.Marshal(Segment{Type: SegmentAtAll})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"AtAll"}`, string(data))
}

func TestMessageProvisional(t *testing.T) {
	m := &Message{ID: ProvisionalID, Role: RoleUser}
	assert.True(t, m.Provisional())
	m.ID = 42
	assert.False(t, m.Provisional())
}
