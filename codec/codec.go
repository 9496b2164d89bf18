// Package codec turns wire frames into payloads and back.
//
// A payload is one JSON envelope, {"body": frame} or {"body": [frame, ...]},
// optionally gzip-compressed. Compression is signalled out of band by the
// transport (a binary websocket message or a FlagBinary tcp frame), never
// negotiated.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"mailrpc/message"
)

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// Envelope is the outer object of every payload.
type Envelope struct {
	Body json.RawMessage `json:"body"`
}

// Framer encodes frame batches into payloads with a fixed compression policy.
// Each mailbox and acceptor owns its own Framer, so settings never leak
// between instances.
type Framer struct {
	codec Codec
	zip   *Compressor
}

// NewFramer returns a Framer. zip may be nil to disable compression.
func NewFramer(c Codec, zip *Compressor) *Framer {
	if c == nil {
		c = &JSONCodec{}
	}
	return &Framer{codec: c, zip: zip}
}

// Marshal wraps body in an envelope. binary reports whether the returned
// payload was compressed and must be sent as a binary message.
func (f *Framer) Marshal(body any) (data []byte, binary bool, err error) {
	data, err = f.codec.Encode(&struct {
		Body any `json:"body"`
	}{Body: body})
	if err != nil {
		return nil, false, fmt.Errorf("encode envelope: %w", err)
	}
	if f.zip == nil || !f.zip.ShouldCompress(len(data)) {
		return data, false, nil
	}
	zipped, zerr := f.zip.Compress(data)
	if zerr != nil {
		// Fall back to the plain payload; the peer handles both.
		return data, false, nil
	}
	return zipped, true, nil
}

// UnmarshalRequests decodes a payload into request frames.
func (f *Framer) UnmarshalRequests(data []byte, binary bool) ([]*message.Request, error) {
	return unmarshalBody[message.Request](f, data, binary)
}

// UnmarshalResponses decodes a payload into response frames.
func (f *Framer) UnmarshalResponses(data []byte, binary bool) ([]*message.Response, error) {
	return unmarshalBody[message.Response](f, data, binary)
}

func unmarshalBody[T any](f *Framer, data []byte, binary bool) ([]*T, error) {
	if binary {
		plain, err := Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("decompress payload: %w", err)
		}
		data = plain
	}
	data = TrimTrailing(data)

	var env Envelope
	if err := f.codec.Decode(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	body := bytes.TrimSpace(env.Body)
	if len(body) == 0 {
		return nil, fmt.Errorf("decode envelope: empty body")
	}

	if body[0] == '[' {
		var frames []*T
		if err := f.codec.Decode(body, &frames); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		return frames, nil
	}
	frame := new(T)
	if err := f.codec.Decode(body, frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return []*T{frame}, nil
}

// TrimTrailing drops exactly one trailing byte when the payload does not end
// with the envelope's closing brace. Some peers append a stray byte (a newline
// from a streaming encoder, or a NUL after decompression); anything beyond one
// byte is left for the JSON decoder to reject.
func TrimTrailing(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] != '}' {
		return data[:len(data)-1]
	}
	return data
}
