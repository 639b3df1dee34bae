package aggregation

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ExtractDecimal pulls a numeric value from a decoded JSON object by field name.
// ok is false when the field is missing or not numeric, so absent values never
// count as zero. Payloads decoded with json.Decoder.UseNumber keep their exact
// decimal text; plain float64 goes through NewFromFloat.
func ExtractDecimal(data map[string]any, field string) (decimal.Decimal, bool) {
	if field == "" {
		return decimal.Zero, false
	}
	v, ok := data[field]
	if !ok {
		return decimal.Zero, false
	}
	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(val), true
	case float32:
		return decimal.NewFromFloat32(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case int32:
		return decimal.NewFromInt(int64(val)), true
	case string:
		d, err := decimal.NewFromString(val)
		return d, err == nil
	}
	return decimal.Zero, false
}
