package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggaccel/edgestream/internal/core/obd"
)

// Source yields stream payloads at the rate they are produced. Next blocks
// until the next payload is due and returns ctx.Err() once ctx ends.
// An error wrapping obd.ErrMalformedFrame means one input was skipped; the
// source stays usable.
type Source interface {
	Name() string
	Next(ctx context.Context) ([]byte, error)
}

// FrameReader yields bus frames, e.g. from a replay file or a live gateway.
type FrameReader interface {
	ReadFrame(ctx context.Context) (obd.RawRecord, error)
}

// Encoding selects what a frame source appends to the stream.
type Encoding string

const (
	// EncodingDecoded appends the Decoded Reading as JSON.
	EncodingDecoded Encoding = "decoded"
	// EncodingRaw appends the frame line itself; the consumer decodes it.
	EncodingRaw Encoding = "raw"
)

// ParseEncoding validates a configured encoding. Empty means decoded.
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(s); e {
	case "":
		return EncodingDecoded, nil
	case EncodingDecoded, EncodingRaw:
		return e, nil
	}
	return "", fmt.Errorf("invalid producer encoding %q (want %q or %q)", s, EncodingDecoded, EncodingRaw)
}

// FrameSource turns frames into payloads.
type FrameSource struct {
	name     string
	reader   FrameReader
	encoding Encoding
	decoder  *obd.Decoder
}

// NewFrameSource wraps reader. Frames are decoded with decoder when encoding is decoded.
func NewFrameSource(name string, reader FrameReader, encoding Encoding, decoder *obd.Decoder) *FrameSource {
	if encoding == "" {
		encoding = EncodingDecoded
	}
	return &FrameSource{name: name, reader: reader, encoding: encoding, decoder: decoder}
}

func (s *FrameSource) Name() string { return s.name }

func (s *FrameSource) Next(ctx context.Context) ([]byte, error) {
	rec, err := s.reader.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}
	if s.encoding == EncodingRaw {
		return []byte(rec.Line()), nil
	}
	return json.Marshal(s.decoder.Decode(rec))
}
