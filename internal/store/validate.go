package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// validator checks raw records against a field map and resolves the shape
// that governs one Store call.
type validator struct {
	fields    FieldMap
	shape     Shape
	dimension int
}

// run validates every record independently. Accepted entries keep their input
// order. With ShapeAuto the first accepted record fixes the call's shape; later
// records of the other shape are rejected with ErrShapeMismatch.
func (v validator) run(records []Record) ([]Entry, []Rejection, Shape) {
	var (
		entries  []Entry
		rejected []Rejection
	)

	shape := v.shape
	dim := v.dimension

	for i, rec := range records {
		entry, err := v.check(rec)
		if err == nil && shape != ShapeAuto && entry.Shape != shape {
			err = fmt.Errorf("%w: got %s, want %s", ErrShapeMismatch, entry.Shape, shape)
		}
		if err == nil && entry.Shape == ShapeNested {
			switch {
			case dim == 0:
				dim = len(entry.Values)
			case len(entry.Values) != dim:
				err = fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(entry.Values), dim)
			}
		}
		if err != nil {
			rejected = append(rejected, Rejection{
				Index:  i,
				ID:     v.recordID(rec),
				Reason: err,
			})
			continue
		}

		if shape == ShapeAuto {
			shape = entry.Shape
		}
		entries = append(entries, entry)
	}

	return entries, rejected, shape
}

// check resolves the shape of a single record and extracts its payload.
// A "metadata" mapping selects the nested shape; otherwise the text field must
// sit at the top level.
func (v validator) check(rec Record) (Entry, error) {
	if rec == nil {
		return Entry{}, ErrNotMapping
	}

	idField := v.fields.ID()
	rawID, ok := rec[idField]
	if !ok {
		return Entry{}, ErrMissingID
	}
	id, ok := rawID.(string)
	if !ok || strings.TrimSpace(id) == "" {
		return Entry{}, ErrInvalidID
	}

	textField := v.fields.Text()

	if md, ok := asMapping(rec["metadata"]); ok {
		text, ok := textValue(md[textField])
		if !ok {
			return Entry{}, fmt.Errorf("%w: metadata.%s", ErrMissingText, textField)
		}
		raw, ok := rec["values"]
		if !ok || raw == nil {
			return Entry{}, ErrMissingValues
		}
		values, err := toFloat32s(raw)
		if err != nil {
			return Entry{}, err
		}
		if len(values) == 0 {
			return Entry{}, ErrMissingValues
		}
		return Entry{
			ID:       id,
			Shape:    ShapeNested,
			Values:   values,
			Metadata: copyMapping(md),
			Text:     text,
		}, nil
	}

	text, ok := textValue(rec[textField])
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrMissingText, textField)
	}

	md := make(map[string]any, len(rec))
	for k, val := range rec {
		if k == idField {
			continue
		}
		md[k] = val
	}

	return Entry{
		ID:       id,
		Shape:    ShapeFlat,
		Metadata: md,
		Text:     text,
	}, nil
}

func (v validator) recordID(rec Record) string {
	if rec == nil {
		return ""
	}
	id, _ := rec[v.fields.ID()].(string)
	return id
}

func asMapping(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, m != nil
	case Record:
		return m, m != nil
	default:
		return nil, false
	}
}

func textValue(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func copyMapping(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// toFloat32s converts the numeric list shapes produced by Go callers and by
// JSON decoding.
func toFloat32s(v any) ([]float32, error) {
	switch vals := v.(type) {
	case []float32:
		out := make([]float32, len(vals))
		copy(out, vals)
		return out, nil
	case []float64:
		out := make([]float32, len(vals))
		for i, f := range vals {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		out := make([]float32, len(vals))
		for i, raw := range vals {
			f, ok := toFloat(raw)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T", ErrInvalidValues, i, raw)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidValues, v)
	}
}

func toFloat(v any) (float32, bool) {
	switch n := v.(type) {
	case float64:
		return float32(n), true
	case float32:
		return n, true
	case int:
		return float32(n), true
	case int64:
		return float32(n), true
	case json.Number:
		f, err := n.Float64()
		return float32(f), err == nil
	default:
		return 0, false
	}
}

// decodeRecords parses a JSON array of records. Elements that are not JSON
// objects become nil records so validation rejects them with ErrNotMapping.
// A single top-level object is treated as a one-element array.
func decodeRecords(data []byte) ([]Record, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		trimmed = "[" + trimmed + "]"
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}

	records := make([]Record, 0, len(raw))
	for _, elem := range raw {
		var m map[string]any
		if err := json.Unmarshal(elem, &m); err != nil || m == nil {
			records = append(records, nil)
			continue
		}
		records = append(records, Record(m))
	}
	return records, nil
}
