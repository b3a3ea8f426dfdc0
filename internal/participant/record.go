// Package participant holds the funnel records and the in-memory registry
// that owns them.
package participant

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrNotFound = errors.New("participant not found")

// Record is one participant's progress through the funnel.
// JSON names match the persisted users file.
//
// Times are normalized on the way in: whatever shape the browser sent, the
// record stores and serves an RFC 3339 UTC string, so a unix-millisecond
// claim timestamp comes back as text in check-user data and in the users
// file.
type Record struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayname"`
	UserID      string `json:"userid"`
	SessionID   string `json:"sessionId"`

	SubmittedAt    Timestamp `json:"timestamp"`
	TimerStartedAt Timestamp `json:"timerStarted"`
	TimerDoneAt    Timestamp `json:"timerCompleted,omitzero"`

	// Completed flips to true once the timer finishes. Only a fresh
	// submission (which replaces the whole record) brings it back to false.
	Completed bool `json:"completed"`
}

// Stage is the funnel position of a participant.
type Stage int

const (
	StageNone Stage = iota
	StageSubmitted
	StageTimerDone
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageSubmitted:
		return "submitted"
	case StageTimerDone:
		return "timer_done"
	default:
		return "unknown"
	}
}

// Stage derives the funnel position from the record. Verification is never
// stored, so it is not a stage.
func (r Record) Stage() Stage {
	if r.Completed {
		return StageTimerDone
	}
	return StageSubmitted
}

// Timestamp is a time that accepts the shapes browsers send: an RFC 3339
// string or a unix-millisecond number (bare or quoted). Anything else
// decodes as the zero time rather than failing the whole payload.
type Timestamp struct {
	time.Time
}

func At(t time.Time) Timestamp { return Timestamp{Time: t} }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	*t, _ = ParseTimestamp(b)
	return nil
}

// ParseTimestamp decodes a raw JSON value. ok is false only when a value was
// present but in no accepted shape; absent and null values are ok and zero.
func ParseTimestamp(b []byte) (ts Timestamp, ok bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return Timestamp{}, true
	}
	if b[0] != '"' {
		ms, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return Timestamp{}, false
		}
		return At(time.UnixMilli(int64(ms)).UTC()), true
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return Timestamp{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z07:00"} {
		if v, err := time.Parse(layout, s); err == nil {
			return At(v.UTC()), true
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return At(time.UnixMilli(ms).UTC()), true
	}
	return Timestamp{}, s == ""
}
