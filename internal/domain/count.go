package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Count is a non-negative integer stat decoded leniently from client JSON.
// Fractions are floored, negatives clamp to zero, numeric strings are
// accepted, and anything else (missing, null, booleans, objects) decodes as zero.
type Count int64

// UnmarshalJSON implements json.Unmarshaler and never fails.
func (c *Count) UnmarshalJSON(data []byte) error {
	*c = 0

	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == '{' || data[0] == '[' {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			*c = parseCount(strings.TrimSpace(s))
		}
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return nil
	}
	*c = parseCount(n.String())
	return nil
}

// Int64 returns the count as a plain integer
func (c Count) Int64() int64 {
	return int64(c)
}

func parseCount(s string) Count {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		if i < 0 {
			return 0
		}
		return Count(i)
	}

	f, err := strconv.ParseFloat(s, 64)
	if math.IsInf(f, 1) {
		return Count(math.MaxInt64)
	}
	if err != nil || math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt64 {
		return Count(math.MaxInt64)
	}
	return Count(math.Floor(f))
}
