package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ScoreExtractor recovers the original (queue-time) score from a payload
// string, used by Replay to re-enqueue an existing movement's members with
// their original scores instead of recomputing them.
type ScoreExtractor func(payload string) (float64, error)

// DefaultScoreExtractor parses the trailing comma-separated field as a
// Unix timestamp, matching the 15-field wire format in use by producers
// (TAG,hex_id,...,ts).
func DefaultScoreExtractor(payload string) (float64, error) {
	fields := strings.Split(payload, ",")
	last := fields[len(fields)-1]
	score, err := strconv.ParseFloat(last, 64)
	if err != nil {
		return 0, fmt.Errorf("queue: parse trailing field %q as score: %w", last, err)
	}
	return score, nil
}

// JSONScoreExtractor builds a ScoreExtractor that reads a dotted path
// (e.g. "properties.emit-absolute-time") out of a JSON payload.
func JSONScoreExtractor(path string) ScoreExtractor {
	segments := strings.Split(path, ".")
	return func(payload string) (float64, error) {
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			return 0, fmt.Errorf("queue: unmarshal payload for score path %q: %w", path, err)
		}
		var cur interface{} = doc
		for i, seg := range segments {
			m, ok := cur.(map[string]interface{})
			if !ok {
				return 0, fmt.Errorf("queue: score path %q: segment %d is not an object", path, i)
			}
			v, ok := m[seg]
			if !ok {
				return 0, fmt.Errorf("queue: score path %q: missing segment %q", path, seg)
			}
			cur = v
		}
		switch v := cur.(type) {
		case float64:
			return v, nil
		case string:
			score, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return 0, fmt.Errorf("queue: score path %q: %w", path, err)
			}
			return score, nil
		default:
			return 0, fmt.Errorf("queue: score path %q: unsupported value type %T", path, cur)
		}
	}
}
