package netlog

import (
	"encoding/base64"
	"encoding/json"
	"unicode/utf8"

	"github.com/valyala/fastjson"
)

// PayloadEncodingBase64 marks a rendered payload holding base64 encoded bytes.
const PayloadEncodingBase64 = "base64"

// LogEntry is a stored network log record. Payload is opaque to the store.
type LogEntry struct {
	Timestamp uint64
	Offset    uint64
	Payload   []byte
}

type entryJSON struct {
	Timestamp uint64      `json:"timestamp"`
	Payload   interface{} `json:"payload"`
	Encoding  string      `json:"encoding,omitempty"`
}

// MarshalJSON embeds JSON payloads as-is and encodes other UTF-8 payloads as
// a string. Payloads that are not valid UTF-8 are base64 encoded and carry
// an "encoding" field.
func (e LogEntry) MarshalJSON() ([]byte, error) {
	out := entryJSON{Timestamp: e.Timestamp}
	switch {
	case !utf8.Valid(e.Payload):
		out.Payload = base64.StdEncoding.EncodeToString(e.Payload)
		out.Encoding = PayloadEncodingBase64
	case len(e.Payload) > 0 && fastjson.ValidateBytes(e.Payload) == nil:
		out.Payload = json.RawMessage(e.Payload)
	default:
		out.Payload = string(e.Payload)
	}
	return json.Marshal(out)
}
