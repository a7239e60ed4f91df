// Package presence implements the streaming XMPP-fragment rewriter that
// hides a player's real presence from the chat backend.
package presence

import "fmt"

// Mode is the presence state the user has chosen to appear as.
type Mode int

const (
	// Offline hides the player entirely.
	Offline Mode = iota
	// Mobile shows the player as using the companion mobile app.
	Mobile
	// Online is pass-through: the client's own presence is forwarded verbatim.
	Online
)

// Token returns the wire token used inside XMPP <show> and game <st> tags.
func (m Mode) Token() string {
	switch m {
	case Offline:
		return "offline"
	case Mobile:
		return "mobile"
	case Online:
		return "chat"
	default:
		return "offline"
	}
}

// Label returns the user-facing word used in chat replies from the fake contact.
func (m Mode) Label() string {
	if m == Online {
		return "online"
	}
	return m.Token()
}

func (m Mode) String() string {
	switch m {
	case Offline:
		return "Offline"
	case Mobile:
		return "Mobile"
	case Online:
		return "Online"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a status string to a Mode. Per spec.md §9, unknown strings
// are rejected explicitly rather than silently defaulting to Offline. The
// literal wire token "chat" is accepted as a synonym for "online", since
// callers using the wire vocabulary directly must still work.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "offline":
		return Offline, nil
	case "mobile":
		return Mobile, nil
	case "online", "chat":
		return Online, nil
	default:
		return Offline, fmt.Errorf("presence: unknown status %q", s)
	}
}
