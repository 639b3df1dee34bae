package codec

import (
	"encoding/json"

	"github.com/ggaccel/edgestream/internal/core/aggregation"
)

// JSONCodec emits the flat downstream shape:
// {"avg_<metric>": ..., "timestamp": ..., "last_sequence_number": ..., "Source": "Rolling Average"}.
type JSONCodec struct{}

func (JSONCodec) Encoding() Encoding  { return EncodingJSON }
func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Encode(agg aggregation.Aggregate) ([]byte, error) {
	return json.Marshal(agg)
}
