package funnel

import (
	"fmt"
	"html"
	"strings"
	"time"

	"claimrelay/internal/participant"
)

const divider = "━━━━━━━━━━━━━━━━━━"

// displayTime renders times for humans reading the chat.
const displayTime = "1/2/2006, 3:04:05 PM"

// Formatter renders notification bodies in Telegram HTML. All
// participant-supplied values are escaped.
type Formatter struct {
	// Loc is the zone times are shown in; nil means time.Local.
	Loc *time.Location
	// TimerLabel is the countdown shown in the claim message.
	TimerLabel string
}

func (f Formatter) when(t time.Time) string {
	loc := f.Loc
	if loc == nil {
		loc = time.Local
	}
	if t.IsZero() {
		return "unknown"
	}
	return t.In(loc).Format(displayTime)
}

func esc(s string) string { return html.EscapeString(s) }

type lines []string

func (l lines) String() string { return strings.TrimSpace(strings.Join(l, "\n")) }

func (f Formatter) ClaimSubmitted(c Claim, at time.Time) string {
	label := f.TimerLabel
	if label == "" {
		label = "2:00"
	}
	return lines{
		"🆕 <b>NEW CLAIM SUBMISSION</b>",
		"",
		"👤 <b>Username:</b> " + esc(c.Username),
		"📝 <b>Display Name:</b> " + esc(c.DisplayName),
		"🆔 <b>User ID:</b> " + esc(c.UserID),
		"🔑 <b>Session ID:</b> " + esc(c.SessionID),
		"⏰ <b>Time:</b> " + f.when(at),
		"",
		fmt.Sprintf("⏳ Timer: %s minutes started", esc(label)),
		divider,
		"<i>Waiting for timer completion...</i>",
	}.String()
}

func (f Formatter) TimerCompleted(t TimerDone, at time.Time) string {
	return lines{
		"⏰ <b>TIMER COMPLETED</b>",
		"",
		"👤 <b>Username:</b> " + esc(t.Username),
		"📝 <b>Display Name:</b> " + esc(t.DisplayName),
		"🆔 <b>User ID:</b> " + esc(t.UserID),
		"🔑 <b>Session ID:</b> " + esc(t.SessionID),
		"⏱️ <b>Completed At:</b> " + f.when(at),
		"",
		"✅ <b>Status:</b> User should now receive verification message",
		fmt.Sprintf("🤖 <b>Action Required:</b> User must reply %q to verify", VerifyToken),
		"",
		divider,
		"<i>Waiting for user verification response...</i>",
	}.String()
}

func (f Formatter) Verified(rec participant.Record, text string, at time.Time) string {
	return lines{
		"✅ <b>USER VERIFIED!</b>",
		"",
		"👤 <b>Username:</b> " + esc(rec.Username),
		"📝 <b>Display Name:</b> " + esc(rec.DisplayName),
		"🆔 <b>User ID:</b> " + esc(rec.UserID),
		"✉️ <b>Response:</b> \"" + esc(text) + "\"",
		"⏰ <b>Time:</b> " + f.when(at),
		"",
		"🎉 <b>VERIFICATION COMPLETE</b>",
		divider,
		"<i>User has completed all steps successfully!</i>",
	}.String()
}

func (f Formatter) MessageReceived(rec participant.Record, text string, at time.Time) string {
	return lines{
		"💬 <b>USER MESSAGE RECEIVED</b>",
		"",
		"👤 <b>Username:</b> " + esc(rec.Username),
		"🆔 <b>User ID:</b> " + esc(rec.UserID),
		"✉️ <b>Message:</b> \"" + esc(text) + "\"",
		"⏰ <b>Time:</b> " + f.when(at),
		"",
		"📌 <b>Note:</b> User has sent \"Hi\" after timer completion",
		divider,
	}.String()
}
