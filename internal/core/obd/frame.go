package obd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedFrame is returned when a bus-log line cannot be split into
// timestamp, arbitration id and hex payload.
var ErrMalformedFrame = errors.New("malformed frame")

// RawRecord is one bus frame as read from a log line or a live device.
// It is immutable once created.
type RawRecord struct {
	Timestamp     float64 // seconds since the epoch
	ArbitrationID string  // hex, as it appeared on the wire (e.g. "7E8")
	Payload       []byte

	// PayloadHex is the payload text exactly as received. Decode fallbacks carry it
	// unchanged so downstream forensics see the original bytes.
	PayloadHex string
}

// ParseLine parses "<timestamp> <arbitration_id_hex> <payload_hex>".
// Extra whitespace between fields is tolerated; anything else is ErrMalformedFrame.
func ParseLine(line string) (RawRecord, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return RawRecord{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedFrame, len(fields))
	}

	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return RawRecord{}, fmt.Errorf("%w: timestamp %q: %v", ErrMalformedFrame, fields[0], err)
	}

	if _, err := parseArbitrationID(fields[1]); err != nil {
		return RawRecord{}, fmt.Errorf("%w: arbitration id %q: %v", ErrMalformedFrame, fields[1], err)
	}

	payload, err := hex.DecodeString(fields[2])
	if err != nil {
		return RawRecord{}, fmt.Errorf("%w: payload %q: %v", ErrMalformedFrame, fields[2], err)
	}

	return RawRecord{
		Timestamp:     ts,
		ArbitrationID: fields[1],
		Payload:       payload,
		PayloadHex:    fields[2],
	}, nil
}

// Line renders the record back into the bus-log text format.
func (r RawRecord) Line() string {
	return fmt.Sprintf("%s %s %s",
		strconv.FormatFloat(r.Timestamp, 'f', 4, 64),
		r.ArbitrationID,
		r.payloadHex(),
	)
}

// WithTimestamp returns a copy of r stamped with ts.
func (r RawRecord) WithTimestamp(ts float64) RawRecord {
	r.Timestamp = ts
	return r
}

func (r RawRecord) payloadHex() string {
	if r.PayloadHex != "" {
		return r.PayloadHex
	}
	return strings.ToUpper(hex.EncodeToString(r.Payload))
}

func parseArbitrationID(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
