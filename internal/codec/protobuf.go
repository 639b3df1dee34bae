package codec

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bufbuild/protocompile"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/ggaccel/edgestream/internal/core/aggregation"
)

const telemetryProtoFile = "edgestream/telemetry/v1/telemetry.proto"

//go:embed telemetry.proto
var telemetryProto string

// ProtobufCodec encodes aggregates as edgestream.telemetry.v1.Aggregate.
// The schema is compiled from the embedded .proto at construction, so there
// is no generated code to keep in sync.
type ProtobufCodec struct {
	aggregate protoreflect.MessageDescriptor
	metric    protoreflect.MessageDescriptor
}

// NewProtobufCodec compiles the embedded telemetry schema.
func NewProtobufCodec() (*ProtobufCodec, error) {
	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&singleFileResolver{
			fileName: telemetryProtoFile,
			content:  telemetryProto,
		}),
		SourceInfoMode: protocompile.SourceInfoNone,
	}

	files, err := compiler.Compile(context.Background(), telemetryProtoFile)
	if err != nil {
		return nil, fmt.Errorf("failed to compile proto: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files compiled")
	}

	messages := files[0].Messages()
	agg := messages.ByName("Aggregate")
	metric := messages.ByName("Metric")
	if agg == nil || metric == nil {
		return nil, fmt.Errorf("telemetry proto is missing Aggregate or Metric")
	}
	return &ProtobufCodec{aggregate: agg, metric: metric}, nil
}

func (c *ProtobufCodec) Encoding() Encoding  { return EncodingProtobuf }
func (c *ProtobufCodec) ContentType() string { return "application/x-protobuf" }

// Descriptor is the compiled Aggregate message, for decoding on the other side.
func (c *ProtobufCodec) Descriptor() protoreflect.MessageDescriptor { return c.aggregate }

func (c *ProtobufCodec) Encode(agg aggregation.Aggregate) ([]byte, error) {
	msg := dynamicpb.NewMessage(c.aggregate)
	fields := c.aggregate.Fields()
	msg.Set(fields.ByName("source"), protoreflect.ValueOfString(aggregation.SourceRollingAverage))
	msg.Set(fields.ByName("timestamp"), protoreflect.ValueOfFloat64(agg.Timestamp))
	msg.Set(fields.ByName("window_start"), protoreflect.ValueOfFloat64(agg.WindowStart))
	msg.Set(fields.ByName("window_end"), protoreflect.ValueOfFloat64(agg.WindowEnd))
	msg.Set(fields.ByName("last_sequence_number"), protoreflect.ValueOfInt64(agg.LastSequenceNumber))
	msg.Set(fields.ByName("records"), protoreflect.ValueOfInt64(int64(agg.Records)))

	metricFields := c.metric.Fields()
	list := msg.Mutable(fields.ByName("metrics")).List()
	for _, m := range agg.Metrics {
		elem := list.NewElement()
		mm := elem.Message()
		mm.Set(metricFields.ByName("name"), protoreflect.ValueOfString(m.Name))
		mm.Set(metricFields.ByName("samples"), protoreflect.ValueOfInt64(m.Samples))
		values := mm.Mutable(metricFields.ByName("values")).Map()
		for op, v := range m.Values {
			values.Set(protoreflect.ValueOfString(op).MapKey(), protoreflect.ValueOfFloat64(v.InexactFloat64()))
		}
		list.Append(elem)
	}

	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal aggregate: %w", err)
	}
	return data, nil
}

// singleFileResolver serves the embedded proto to the compiler.
type singleFileResolver struct {
	fileName string
	content  string
}

func (r *singleFileResolver) FindFileByPath(path string) (protocompile.SearchResult, error) {
	if path == r.fileName {
		return protocompile.SearchResult{
			Source: strings.NewReader(r.content),
		}, nil
	}
	return protocompile.SearchResult{}, fmt.Errorf("file not found: %s", path)
}
