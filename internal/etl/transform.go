package etl

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ── Validator ──────────────────────────────────────────────
// Turns one decoded remote object into a typed Record for a dataset.
// Socrata serializes numbers as strings, so numeric fields accept both
// JSON numbers and decimal strings. Nested location objects are flattened
// here so stores only ever see flat rows.

// timestampLayouts are tried in order. The first is Socrata's floating
// timestamp format.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02",
}

// Validate converts raw into a Record following d's schema.
// index is the record's position in its page and only feeds error messages.
func Validate(d *Descriptor, raw RawRecord, index int) (Record, error) {
	data := make(map[string]any, len(d.Schema.Fields))
	for _, f := range d.Schema.Fields {
		v, present := raw[f.Name]
		if !present || v == nil || isBlankNonText(f, v) {
			if f.Required {
				return Record{}, &ValidationError{Dataset: d.Name, Index: index, Field: f.Name, Reason: "required field missing"}
			}
			data[f.Name] = nil
			continue
		}

		converted, err := convert(f, v)
		if err != nil {
			return Record{}, &ValidationError{Dataset: d.Name, Index: index, Field: f.Name, Reason: err.Error()}
		}
		data[f.Name] = converted
	}
	return Record{Data: data}, nil
}

// ValidatePage validates every record of a page. The first invalid record
// rejects the whole page.
func ValidatePage(d *Descriptor, page []RawRecord) ([]Record, error) {
	records := make([]Record, 0, len(page))
	for i, raw := range page {
		rec, err := Validate(d, raw, i)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// isBlankNonText treats "" as absent for non-text columns.
func isBlankNonText(f Field, v any) bool {
	if f.Type == FieldText {
		return false
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func convert(f Field, v any) (any, error) {
	switch f.Type {
	case FieldInteger:
		return toInt64(v)
	case FieldFloat:
		return toFloat64(v)
	case FieldText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case FieldTimestamp:
		return toTime(v)
	case FieldLocation:
		return flattenLocation(v)
	default:
		return nil, fmt.Errorf("unsupported field type %q", f.Type)
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", n.String())
		}
		return i, nil
	case float64:
		if n != math.Trunc(n) || n >= math.MaxInt64 || n < math.MinInt64 {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", n.String())
		}
		return f, nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func toTime(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected timestamp string, got %T", v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("malformed timestamp %q", s)
}

// flattenLocation serializes a {latitude, longitude} object as "(lat, lon)".
// Other keys (human_address) are dropped.
func flattenLocation(v any) (string, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", fmt.Errorf("expected location object, got %T", v)
	}
	lat, err := coordinate(m, "latitude")
	if err != nil {
		return "", err
	}
	lon, err := coordinate(m, "longitude")
	if err != nil {
		return "", err
	}
	return "(" + strconv.FormatFloat(lat, 'f', -1, 64) + ", " + strconv.FormatFloat(lon, 'f', -1, 64) + ")", nil
}

func coordinate(m map[string]any, key string) (float64, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return 0, fmt.Errorf("location missing %s", key)
	}
	f, err := toFloat64(raw)
	if err != nil {
		return 0, fmt.Errorf("location %s: %w", key, err)
	}
	return f, nil
}
