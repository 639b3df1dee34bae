// Package codec encodes aggregate records for the forwarding sink.
package codec

import (
	"fmt"

	"github.com/ggaccel/edgestream/internal/core/aggregation"
)

// Encoding names a wire format for aggregate records.
type Encoding string

const (
	EncodingJSON     Encoding = "json"
	EncodingProtobuf Encoding = "protobuf"
)

// Codec turns an aggregate into the bytes handed to a transport.
type Codec interface {
	Encoding() Encoding
	ContentType() string
	Encode(agg aggregation.Aggregate) ([]byte, error)
}

// registry maps encodings to constructors (no switch needed)
var registry = map[Encoding]func() (Codec, error){
	EncodingJSON:     func() (Codec, error) { return JSONCodec{}, nil },
	EncodingProtobuf: func() (Codec, error) { return NewProtobufCodec() },
}

// New returns the codec for encoding. An empty encoding means JSON.
func New(encoding Encoding) (Codec, error) {
	if encoding == "" {
		encoding = EncodingJSON
	}
	ctor, ok := registry[encoding]
	if !ok {
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
	return ctor()
}

// Valid reports whether New would accept encoding.
func Valid(encoding Encoding) bool {
	if encoding == "" {
		return true
	}
	_, ok := registry[encoding]
	return ok
}
