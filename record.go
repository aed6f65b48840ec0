package elk

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
)

// RawRecord is one item as produced by a data source backend. It has at least
// an "origin", a "data" payload whose shape depends on the data source, and
// metadata fields such as "metadata__updated_on". A RawRecord is never
// modified by enrichment.
type RawRecord map[string]interface{}

// Origin returns the URL or identifier of the source the item came from.
func (r RawRecord) Origin() string {
	s, _ := toString(r["origin"])
	return s
}

// Data returns the source specific payload, or nil if there is none.
func (r RawRecord) Data() map[string]interface{} {
	d, _ := r["data"].(map[string]interface{})
	return d
}

// UpdatedOn returns the item's last update time as recorded by the backend.
func (r RawRecord) UpdatedOn() (time.Time, bool) {
	return parseTime(r["metadata__updated_on"])
}

// isoSeconds is the canonical textual format for dates in enriched records.
const isoSeconds = "2006-01-02T15:04:05"

const secondsPerDay = float64(60 * 60 * 24)

// lookup walks nested maps along path.
func lookup(m map[string]interface{}, path ...string) (interface{}, bool) {
	var cur interface{} = m
	for _, key := range path {
		cm, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = cm[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// value returns the value at path, or nil so that it marshals to null.
func value(m map[string]interface{}, path ...string) interface{} {
	v, _ := lookup(m, path...)
	return v
}

// stringAt returns the value at path as a string, or nil.
func stringAt(m map[string]interface{}, path ...string) interface{} {
	v, ok := lookup(m, path...)
	if !ok {
		return nil
	}
	if s, ok := toString(v); ok {
		return s
	}
	return nil
}

// listAt returns the list at path, or nil.
func listAt(m map[string]interface{}, path ...string) []interface{} {
	v, _ := lookup(m, path...)
	l, _ := v.([]interface{})
	return l
}

// textAt reads the "__text__" of the first element of a list field, the shape
// XML derived backends use for scalar values.
func textAt(m map[string]interface{}, key string) (string, bool) {
	l := listAt(m, key)
	if len(l) == 0 {
		return "", false
	}
	first, ok := l[0].(map[string]interface{})
	if !ok {
		return "", false
	}
	return toString(first["__text__"])
}

// textOrNil is textAt for fields which go straight into an enriched record.
func textOrNil(m map[string]interface{}, key string) interface{} {
	if s, ok := textAt(m, key); ok {
		return s
	}
	return nil
}

func toString(v interface{}) (string, bool) {
	switch vt := v.(type) {
	case string:
		return vt, true
	case json.Number:
		return vt.String(), true
	case float64:
		return strconv.FormatFloat(vt, 'f', -1, 64), true
	case int:
		return strconv.Itoa(vt), true
	case int64:
		return strconv.FormatInt(vt, 10), true
	default:
		return "", false
	}
}

// parseTime reads a date in whatever representation the backend used. Numbers
// are seconds since the epoch. Dates without a zone are taken to be UTC.
func parseTime(v interface{}) (time.Time, bool) {
	var secs float64
	switch vt := v.(type) {
	case string:
		if vt == "" {
			return time.Time{}, false
		}
		t, err := dateparse.ParseIn(vt, time.UTC)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case json.Number:
		f, err := vt.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	case float64:
		secs = vt
	case int:
		secs = float64(vt)
	case int64:
		secs = float64(vt)
	default:
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true
}

// isoOrNil formats v as a canonical date, or returns nil.
func isoOrNil(v interface{}) interface{} {
	t, ok := parseTime(v)
	if !ok {
		return nil
	}
	return t.Format(isoSeconds)
}

// daysBetween is the number of whole and fractional days from start to end,
// rounded to two decimals. It does no calendar arithmetic.
func daysBetween(start, end time.Time) float64 {
	days := end.Sub(start).Seconds() / secondsPerDay
	return math.Round(days*100) / 100
}
