package message

import (
	"encoding/json"
	"strconv"
	"time"
)

// UnmarshalJSON accepts RFC 3339 strings (with or without sub-second
// precision) and epoch seconds or milliseconds. Unparsable values yield the
// zero time instead of an error; the caller decides the fallback.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		t.Time = time.Time{}
		return nil
	}

	if s != "" && s[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Time = time.Time{}
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, raw); err == nil {
				t.Time = parsed
				return nil
			}
		}
		t.Time = time.Time{}
		return nil
	}

	// Numeric epoch. Values above 1e12 are treated as milliseconds.
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		t.Time = time.Time{}
		return nil
	}
	if n > 1e12 {
		t.Time = time.UnixMilli(int64(n))
	} else {
		t.Time = time.Unix(int64(n), 0)
	}
	return nil
}

// MarshalJSON emits RFC 3339 with nanosecond precision.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
