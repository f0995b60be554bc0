package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// lengthPrefixSize is the fixed width of the big-endian header length.
const lengthPrefixSize = 2

// Header is the textual frame header carried before every payload.
// All three keys are required; a header missing any of them is fatal
// to the connection that sent it.
type Header struct {
	ByteOrder       string `json:"byteorder"`
	ContentEncoding string `json:"content-encoding"`
	ContentLength   int    `json:"content-length"`
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxHeaderBytes  int
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxHeaderBytes:  4 * 1024,
		MaxPayloadBytes: 16 * 1024 * 1024,
	}
}

// NewHeader builds the header for an encrypted payload of n bytes.
func NewHeader(n int) Header {
	return Header{
		ByteOrder:       "big",
		ContentEncoding: "utf-8",
		ContentLength:   n,
	}
}

// EncodeFrame serializes header and payload into one wire frame:
// 2-byte big-endian header length, JSON header, payload bytes.
func EncodeFrame(h Header, payload []byte, limits Limits) ([]byte, error) {
	h.ContentLength = len(payload)
	headerBytes, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHeaderEncode, err)
	}
	if len(headerBytes) > int(^uint16(0)) || len(headerBytes) > limits.MaxHeaderBytes {
		return nil, ErrHeaderTooLarge
	}
	if len(payload) > limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, 0, lengthPrefixSize+len(headerBytes)+len(payload))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(headerBytes)))
	buf = append(buf, headerBytes...)
	buf = append(buf, payload...)
	return buf, nil
}

// DecodeHeaderLength decodes the 2-byte length prefix once buffered.
// Reports false when fewer than two bytes are available.
func DecodeHeaderLength(buf []byte) (int, bool) {
	if len(buf) < lengthPrefixSize {
		return 0, false
	}
	return int(binary.BigEndian.Uint16(buf[:lengthPrefixSize])), true
}

// DecodeHeader parses the JSON header once n bytes are buffered past the
// length prefix. Reports false when the buffer is still short. A header
// that parses but lacks any required key fails with ErrHeaderIncomplete.
func DecodeHeader(buf []byte, n int, limits Limits) (Header, bool, error) {
	if n > limits.MaxHeaderBytes {
		return Header{}, false, ErrHeaderTooLarge
	}
	if len(buf) < lengthPrefixSize+n {
		return Header{}, false, nil
	}
	raw := buf[lengthPrefixSize : lengthPrefixSize+n]

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return Header{}, false, fmt.Errorf("%w: %v", ErrHeaderInvalid, err)
	}
	for _, required := range []string{"byteorder", "content-encoding", "content-length"} {
		if _, ok := keys[required]; !ok {
			return Header{}, false, fmt.Errorf("%w: %s", ErrHeaderIncomplete, required)
		}
	}

	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return Header{}, false, fmt.Errorf("%w: %v", ErrHeaderInvalid, err)
	}
	if h.ContentLength < 0 || h.ContentLength > limits.MaxPayloadBytes {
		return Header{}, false, ErrPayloadTooLarge
	}
	return h, true, nil
}

// DecodePayload slices the still-encrypted payload once headerLen plus
// contentLen bytes are buffered. Reports false when short.
func DecodePayload(buf []byte, headerLen, contentLen int) ([]byte, bool) {
	start := lengthPrefixSize + headerLen
	if len(buf) < start+contentLen {
		return nil, false
	}
	payload := make([]byte, contentLen)
	copy(payload, buf[start:start+contentLen])
	return payload, true
}

// FrameSize is the total wire size of a frame with the given header and
// payload lengths.
func FrameSize(headerLen, contentLen int) int {
	return lengthPrefixSize + headerLen + contentLen
}
