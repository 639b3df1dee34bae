package forwarding

import (
	"github.com/ggaccel/edgestream/internal/core/aggregation"
	"github.com/ggaccel/edgestream/internal/core/storage"
)

// Kind distinguishes computed aggregates from raw pass-through records.
type Kind string

const (
	KindAggregate Kind = "aggregate"
	KindRaw       Kind = "raw"
)

// Record is one unit of delivery. SequenceNumber identifies it in drop
// warnings: the stream record itself for raw records, the last record of the
// window for aggregates.
type Record struct {
	Kind           Kind
	SequenceNumber int64
	Aggregate      aggregation.Aggregate // KindAggregate only
	Payload        []byte                // KindRaw only, forwarded verbatim
}

// AggregateRecord wraps a closed window for delivery.
func AggregateRecord(agg aggregation.Aggregate) Record {
	return Record{Kind: KindAggregate, SequenceNumber: agg.LastSequenceNumber, Aggregate: agg}
}

// RawRecord wraps a stream record for pass-through delivery.
func RawRecord(rec storage.Record) Record {
	return Record{Kind: KindRaw, SequenceNumber: rec.SequenceNumber, Payload: rec.Payload}
}
