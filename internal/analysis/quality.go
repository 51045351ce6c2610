// Package analysis classifies the quality of every move in a game from
// engine evaluations of the positions before and after it.
package analysis

import "fmt"

// Quality is a move-quality label. Labels are mutually exclusive; each
// ply receives exactly one.
type Quality int

const (
	// Unclassified marks a ply whose evaluations were unavailable.
	Unclassified Quality = iota
	Brilliant
	Best
	Excellent
	Good
	Book
	Forced
	Inaccuracy
	Mistake
	Miss
	Blunder
)

var qualityNames = map[Quality]string{
	Unclassified: "unclassified",
	Brilliant:    "brilliant",
	Best:         "best",
	Excellent:    "excellent",
	Good:         "good",
	Book:         "book",
	Forced:       "forced",
	Inaccuracy:   "inaccuracy",
	Mistake:      "mistake",
	Miss:         "miss",
	Blunder:      "blunder",
}

func (q Quality) String() string {
	if s, ok := qualityNames[q]; ok {
		return s
	}
	return fmt.Sprintf("quality(%d)", int(q))
}

// MarshalJSON encodes the quality as its lowercase name.
func (q Quality) MarshalJSON() ([]byte, error) {
	return []byte(`"` + q.String() + `"`), nil
}

// UnmarshalJSON decodes a lowercase quality name.
func (q *Quality) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	for k, v := range qualityNames {
		if v == s {
			*q = k
			return nil
		}
	}
	return fmt.Errorf("unknown quality %q", s)
}
