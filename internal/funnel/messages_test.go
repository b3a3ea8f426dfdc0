package funnel

import (
	"strings"
	"testing"
	"time"

	"claimrelay/internal/participant"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := map[string]Kind{
		"ItsMe":  KindVerify,
		"itsMe":  KindIgnore,
		"ItsMe ": KindIgnore,
		"hi":     KindGreeting,
		"hI":     KindGreeting,
		"hi!":    KindIgnore,
		"/start": KindStart,
		"":       KindIgnore,
	}
	for text, want := range tests {
		if got := Classify(text); got != want {
			t.Errorf("Classify(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestFormatterEscapesInput(t *testing.T) {
	t.Parallel()
	f := Formatter{Loc: time.UTC}
	msg := f.ClaimSubmitted(Claim{Username: "<b>x</b>", UserID: "1&2"}, time.Date(2025, 3, 1, 14, 5, 9, 0, time.UTC))

	if strings.Contains(msg, "<b>x</b>") {
		t.Fatalf("username not escaped:\n%s", msg)
	}
	for _, want := range []string{
		"🆕 <b>NEW CLAIM SUBMISSION</b>",
		"👤 <b>Username:</b> &lt;b&gt;x&lt;/b&gt;",
		"🆔 <b>User ID:</b> 1&amp;2",
		"⏰ <b>Time:</b> 3/1/2025, 2:05:09 PM",
		"⏳ Timer: 2:00 minutes started",
		"<i>Waiting for timer completion...</i>",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing %q in:\n%s", want, msg)
		}
	}
}

func TestFormatterTemplates(t *testing.T) {
	t.Parallel()
	f := Formatter{Loc: time.UTC}
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := participant.Record{Username: "alice", DisplayName: "Alice", UserID: "42"}

	tests := []struct {
		name string
		got  string
		want []string
	}{
		{"timer", f.TimerCompleted(TimerDone{Username: "alice", UserID: "42"}, at), []string{
			"⏰ <b>TIMER COMPLETED</b>",
			"⏱️ <b>Completed At:</b> 3/1/2025, 9:00:00 AM",
			`User must reply "ItsMe" to verify`,
		}},
		{"verified", f.Verified(rec, "ItsMe", at), []string{
			"✅ <b>USER VERIFIED!</b>",
			`✉️ <b>Response:</b> "ItsMe"`,
			"🎉 <b>VERIFICATION COMPLETE</b>",
		}},
		{"message", f.MessageReceived(rec, "HI", at), []string{
			"💬 <b>USER MESSAGE RECEIVED</b>",
			`✉️ <b>Message:</b> "HI"`,
			"📌 <b>Note:</b>",
		}},
	}
	for _, tt := range tests {
		for _, w := range tt.want {
			if !strings.Contains(tt.got, w) {
				t.Errorf("%s: missing %q in:\n%s", tt.name, w, tt.got)
			}
		}
	}
}
