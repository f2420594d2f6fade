package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadUvarint(t *testing.T) {
	v, next, ok := readUvarint([]byte{0x05}, 0)
	require.True(t, ok)
	require.Equal(t, uint64(5), v)
	require.Equal(t, 1, next)

	// 300 = 0xAC 0x02
	v, next, ok = readUvarint([]byte{0xac, 0x02}, 0)
	require.True(t, ok)
	require.Equal(t, uint64(300), v)
	require.Equal(t, 2, next)

	// Truncated continuation byte.
	_, _, ok = readUvarint([]byte{0x80}, 0)
	require.False(t, ok)
}

func TestScanWireFields(t *testing.T) {
	payload := append(
		wireBytesField(1, []byte("hello")),
		wireBytesField(4, []byte(`{"a":1}`))...,
	)

	fields, ok := scanWireFields(payload)
	require.True(t, ok)
	require.Len(t, fields, 2)
	require.Equal(t, 1, fields[0].num)
	require.Equal(t, []byte("hello"), fields[0].data)
	require.Equal(t, 4, fields[1].num)

	_, ok = scanWireFields([]byte{0x00, 0x01})
	require.False(t, ok)

	// Declared length beyond the buffer.
	_, ok = scanWireFields([]byte{0x0a, 0x7f, 'x'})
	require.False(t, ok)
}

func TestScanCursorWireNested(t *testing.T) {
	// A varint field with a control-character byte keeps the inner
	// message from reading as printable text, forcing recursion.
	inner := append([]byte{0x28, 0x01}, wireBytesField(4,
		[]byte(`{"role":"assistant","content":"nested reply"}`))...)
	outer := wireBytesField(2, inner)

	role, content := scanCursorWire(outer, 0)
	require.Equal(t, RoleAssistant, role)
	require.Equal(t, "nested reply", content)
}

func TestScanCursorWirePromptText(t *testing.T) {
	prompt := "please refactor the sync engine worker pool"
	payload := wireBytesField(1, []byte(prompt))

	role, content := scanCursorWire(payload, 0)
	require.Equal(t, RoleUser, role)
	require.Equal(t, prompt, content)
}

func TestIsPrintableText(t *testing.T) {
	require.True(t, isPrintableText([]byte("hello\nworld")))
	require.False(t, isPrintableText([]byte{0xff, 0xfe}))
	require.False(t, isPrintableText([]byte{'a', 0x01}))
}

func TestLooksLikePrompt(t *testing.T) {
	require.True(t,
		looksLikePrompt("explain what this function does in detail"))
	require.False(t, looksLikePrompt("too short"))
	require.False(t,
		looksLikePrompt("https://example.com/some/long/path/here"))
	require.False(t,
		looksLikePrompt(`{"key": "value", "other": "field"}`))
	require.False(t,
		looksLikePrompt("123456789 123456789 12345"))
}
