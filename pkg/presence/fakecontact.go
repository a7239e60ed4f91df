package presence

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FakeJid is the bare JID of the synthetic contact injected into the
// client's roster. It hosts the user-facing command channel.
const FakeJid = "41c322a1-b328-495b-a004-5ccd3e45eae8@eu1.pvp.net"

// FakeResource is the resource part used when the fake contact speaks.
const FakeResource = "RC-Deceive"

// FakeDisplayName is the roster display name for the fake contact. The
// leading tab is intentional: it sorts above real friends in the client UI.
const FakeDisplayName = "\tDeceive Active!"

// fakeFullJid is the resource-qualified form used as a message/presence "from".
const fakeFullJid = FakeJid + "/" + FakeResource

// RosterMarker is the literal substring identifying the outbound roster
// query fragment.
const RosterMarker = "<query xmlns='jabber:iq:riotgames:roster'>"

// RosterItem is the synthetic <item/> spliced into the roster query response
// immediately after RosterMarker.
const RosterItem = `<item jid='` + FakeJid + `' name='` + FakeDisplayName + `' subscription='both' puuid='41c322a1-b328-495b-a004-5ccd3e45eae8'><group priority='9999'>Deceive</group><state>online</state><id name='` + FakeDisplayName + `' tagline='...'/><lol name='` + FakeDisplayName + `'/><platforms><riot name='\tDeceive Active' tagline='...'/></platforms></item>`

// ContainsFakeJid reports whether chunk addresses the fake contact, e.g. a
// client chat message with to='<FakeJid>'.
func ContainsFakeJid(chunk string) bool {
	return strings.Contains(chunk, FakeJid)
}

// InjectRosterItem splices RosterItem immediately after the roster query's
// opening tag. The caller must have already confirmed chunk contains
// RosterMarker.
func InjectRosterItem(chunk string) string {
	idx := strings.Index(chunk, RosterMarker)
	if idx < 0 {
		return chunk
	}
	insertAt := idx + len(RosterMarker)
	return chunk[:insertAt] + RosterItem + chunk[insertAt:]
}

type valorantPartyPresence struct {
	IsValid            bool   `json:"isValid"`
	PartyID            string `json:"partyId"`
	PartyClientVersion string `json:"partyClientVersion"`
	AccountLevel       int    `json:"accountLevel"`
}

// SyntheticPresence builds the initial presence stanza the fake contact
// pushes to the client once the roster has been patched, per spec.md §4.3.4.
func SyntheticPresence(valorantVersion string) string {
	if valorantVersion == "" {
		valorantVersion = "unknown"
	}
	vp := valorantPartyPresence{
		IsValid:            true,
		PartyID:            "00000000-0000-0000-0000-000000000000",
		PartyClientVersion: valorantVersion,
		AccountLevel:       1000,
	}
	raw, _ := json.Marshal(vp)
	encoded := base64.StdEncoding.EncodeToString(raw)

	randomID := uuid.New().String()
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var b strings.Builder
	fmt.Fprintf(&b, "<presence from='%s' id='b-%s'>", fakeFullJid, randomID)
	b.WriteString("<games>")
	fmt.Fprintf(&b, "<keystone><st>chat</st><s.t>%s</s.t><s.p>keystone</s.p></keystone>", ts)
	fmt.Fprintf(&b, "<league_of_legends><s.c>live</s.c><p>{\"pty\":true}</p><st>chat</st><s.t>%s</s.t><s.p>league_of_legends</s.p></league_of_legends>", ts)
	fmt.Fprintf(&b, "<valorant><s.r>PC</s.r><p>%s</p><st>chat</st><s.t>%s</s.t><s.p>valorant</s.p></valorant>", encoded, ts)
	fmt.Fprintf(&b, "<bacon><s.l>bacon_availability_online</s.l><st>chat</st><s.t>%s</s.t><s.p>bacon</s.p></bacon>", ts)
	b.WriteString("</games>")
	b.WriteString("<show>chat</show><platform>riot</platform><status/>")
	b.WriteString("</presence>")
	return b.String()
}

// timestamp formats now as ISO-8601 with 'T' replaced by ' ' and the
// trailing 'Z' removed, as spec.md §4.3.4 requires for chat stamps.
func timestamp(now time.Time) string {
	s := now.UTC().Format("2006-01-02T15:04:05.000Z")
	s = strings.Replace(s, "T", " ", 1)
	s = strings.TrimSuffix(s, "Z")
	return s
}

// SyntheticChatMessage builds a chat message stanza that appears to come
// from the fake contact, used for command echoes and the intro sequence.
func SyntheticChatMessage(text string, now time.Time) string {
	stamp := timestamp(now)
	escaped := escapeBody(text)
	return fmt.Sprintf(
		"<message from='%s' stamp='%s' id='fake-%s' type='chat'><body>%s</body></message>",
		fakeFullJid, stamp, stamp, escaped,
	)
}

func escapeBody(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
