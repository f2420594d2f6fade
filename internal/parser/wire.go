package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Minimal protobuf wire-format scanner for Cursor's legacy blob
// payloads. The payloads follow a small, reverse-engineered layout
// and only two fields matter: an embedded JSON object (field 4)
// carrying role and content, and a long text field (field 1)
// holding raw user prompt text. Unknown fields are skipped by wire
// type so newer payloads do not break decoding.

const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5

	maxWireDepth = 4
)

// wireField is one decoded field from a wire-format message.
type wireField struct {
	num  int
	wire int
	data []byte // set for wireBytes fields
}

// readUvarint decodes a varint at data[i], returning the value and
// the next offset, or ok=false on truncation.
func readUvarint(data []byte, i int) (uint64, int, bool) {
	var v uint64
	var shift uint
	for ; i < len(data); i++ {
		b := data[i]
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, i + 1, true
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, false
		}
	}
	return 0, 0, false
}

// scanWireFields splits data into its top-level fields. Returns
// ok=false when the bytes do not parse as a wire message at all.
func scanWireFields(data []byte) ([]wireField, bool) {
	var fields []wireField
	i := 0
	for i < len(data) {
		tag, next, ok := readUvarint(data, i)
		if !ok {
			return nil, false
		}
		i = next
		f := wireField{num: int(tag >> 3), wire: int(tag & 7)}
		if f.num == 0 {
			return nil, false
		}

		switch f.wire {
		case wireVarint:
			if _, next, ok = readUvarint(data, i); !ok {
				return nil, false
			}
			i = next
		case wireBytes:
			length, next, ok := readUvarint(data, i)
			if !ok || next+int(length) > len(data) {
				return nil, false
			}
			f.data = data[next : next+int(length)]
			i = next + int(length)
		case wireFixed32:
			if i+4 > len(data) {
				return nil, false
			}
			i += 4
		case wireFixed64:
			if i+8 > len(data) {
				return nil, false
			}
			i += 8
		default:
			return nil, false
		}
		fields = append(fields, f)
	}
	return fields, true
}

// isPrintableText reports whether b is valid UTF-8 made of
// printable characters and whitespace.
func isPrintableText(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// looksLikePrompt filters field-1 strings down to plausible user
// prompt text: long enough, not a URL, not embedded JSON, and
// containing at least one letter.
func looksLikePrompt(s string) bool {
	if len(s) <= 20 {
		return false
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "http://") ||
		strings.HasPrefix(trimmed, "https://") ||
		strings.HasPrefix(trimmed, "{") ||
		strings.HasPrefix(trimmed, "[") {
		return false
	}
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
