package store

import (
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
)

// ISO-8601 with a fixed-width fraction. Firestore orders string fields
// lexicographically, a variable-width fraction would break time ordering
// between whole-second and sub-second documents.
const ISO8601_LAYOUT = "2006-01-02T15:04:05.000000000Z07:00"

func stringField(data map[string]interface{}, key string) (string, error) {
	v, ok := data[key]
	if !ok {
		return "", fmt.Errorf("'%s' is missing", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("'%s' is not a string", key)
	}
	return s, nil
}

func timeField(data map[string]interface{}, key string) (time.Time, error) {
	s, err := stringField(data, key)
	if err != nil {
		return time.Time{}, err
	}
	// RFC3339Nano also accepts the fixed-width layout, documents written
	// before the width was pinned still decode
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("'%s' is not an ISO-8601 timestamp: %w", key, err)
	}
	return t, nil
}

func boolField(data map[string]interface{}, key string) (bool, error) {
	v, ok := data[key]
	if !ok {
		return false, fmt.Errorf("'%s' is missing", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("'%s' is not a bool", key)
	}
	return b, nil
}

func int64Field(data map[string]interface{}, key string) (int64, error) {
	v, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("'%s' is missing", key)
	}
	// Firestore hands back int64, but documents written by other SDKs may
	// carry float64
	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("'%s' is not an integer", key)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("'%s' is not a number", key)
}

func mapField(data map[string]interface{}, key string) (map[string]interface{}, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("'%s' is not a map", key)
	}
	return m, nil
}

// metricField reads an optional numeric field. Absent or nil means unset.
func metricField(data map[string]interface{}, key string) (decimal.NullDecimal, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return decimal.NullDecimal{}, nil
	}
	switch n := v.(type) {
	case float64:
		return decimal.NewNullDecimal(decimal.NewFromFloat(n)), nil
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(n)), nil
	}
	return decimal.NullDecimal{}, fmt.Errorf("'%s' is not a number", key)
}

func putMetric(data map[string]interface{}, key string, d decimal.NullDecimal) {
	if !d.Valid {
		return
	}
	f, _ := d.Decimal.Float64()
	data[key] = f
}

func appendMetricUpdate(updates []firestore.Update, path string, d decimal.NullDecimal) []firestore.Update {
	if !d.Valid {
		return updates
	}
	f, _ := d.Decimal.Float64()
	return append(updates, firestore.Update{Path: path, Value: f})
}

// decimalField reads a decimal stored as a string, used for money amounts
// where float drift matters.
func decimalField(data map[string]interface{}, key string) (decimal.Decimal, error) {
	s, err := stringField(data, key)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("'%s' is not a decimal: %w", key, err)
	}
	return d, nil
}
