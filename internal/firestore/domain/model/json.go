package model

import (
	"bytes"
	"encoding/json"
)

// DecodeFields decodes a JSON object of document fields. Integral numbers
// become int64 and other numbers float64, which is what the stores return.
func DecodeFields(b []byte) (map[string]any, error) {
	var fields map[string]any
	if err := decodeNumbers(b, &fields); err != nil {
		return nil, err
	}
	normalizeNumbers(fields)
	return fields, nil
}

func decodeNumbers(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

// normalizeNumbers replaces json.Number values, in place for maps and
// slices.
func normalizeNumbers(v any) any {
	switch value := v.(type) {
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i
		}
		f, _ := value.Float64()
		return f
	case map[string]any:
		for k, item := range value {
			value[k] = normalizeNumbers(item)
		}
		return value
	case []any:
		for i, item := range value {
			value[i] = normalizeNumbers(item)
		}
		return value
	default:
		return v
	}
}

// UnmarshalJSON keeps integral filter values as int64.
func (f *Filter) UnmarshalJSON(b []byte) error {
	type plain Filter
	var wire plain
	if err := decodeNumbers(b, &wire); err != nil {
		return err
	}
	wire.Value = normalizeNumbers(wire.Value)
	*f = Filter(wire)
	return nil
}

// UnmarshalJSON keeps integral field values as int64.
func (w *WriteOperation) UnmarshalJSON(b []byte) error {
	type plain WriteOperation
	var wire plain
	if err := decodeNumbers(b, &wire); err != nil {
		return err
	}
	normalizeNumbers(wire.Data)
	*w = WriteOperation(wire)
	return nil
}
