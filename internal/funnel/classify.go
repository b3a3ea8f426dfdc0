package funnel

import "strings"

// Kind is the classification of an inbound chat message.
type Kind int

const (
	KindIgnore Kind = iota
	// KindVerify is the exact, case-sensitive verification token.
	KindVerify
	// KindGreeting is "hi" in any letter case.
	KindGreeting
	// KindStart is the bot /start command. It is recognised but produces
	// no notification.
	KindStart
)

// VerifyToken is the reply a participant sends to prove the chat is theirs.
const VerifyToken = "ItsMe"

func (k Kind) String() string {
	switch k {
	case KindVerify:
		return "verify"
	case KindGreeting:
		return "greeting"
	case KindStart:
		return "start"
	default:
		return "ignore"
	}
}

// Classify maps raw message text to a Kind. Text is compared as-is, without
// trimming.
func Classify(text string) Kind {
	switch {
	case text == VerifyToken:
		return KindVerify
	case text == "/start":
		return KindStart
	case strings.ToLower(text) == "hi":
		return KindGreeting
	default:
		return KindIgnore
	}
}
