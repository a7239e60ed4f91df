package presence

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewritePresence_Offline(t *testing.T) {
	in := `<presence><show>chat</show><status>hi</status><games><league_of_legends><st>chat</st><p>x</p></league_of_legends><valorant><st>chat</st></valorant></games></presence>`
	out, _ := RewritePresence(in, Offline, true, nil)
	assert.Equal(t, `<presence><show>offline</show><games></games></presence>`, out)
}

func TestRewritePresence_Mobile(t *testing.T) {
	in := `<presence><show>chat</show><status>hi</status><games><league_of_legends><st>chat</st><p>x</p></league_of_legends><valorant><st>chat</st></valorant></games></presence>`
	out, _ := RewritePresence(in, Mobile, true, nil)
	assert.Equal(t, `<presence><show>mobile</show><games><league_of_legends><st>mobile</st></league_of_legends></games></presence>`, out)
}

func TestRewritePresence_OnlineIsIdentity(t *testing.T) {
	in := `<presence><show>chat</show><status>hi</status><games><league_of_legends><st>chat</st><p>x</p></league_of_legends></games></presence>`
	out, _ := RewritePresence(in, Online, true, nil)
	assert.Equal(t, in, out)
}

func TestRewritePresence_MucPassthrough(t *testing.T) {
	in := `<presence to='room@muc.pvp.net'><show>chat</show></presence>`
	out, _ := RewritePresence(in, Offline, true, nil)
	assert.Equal(t, in, out)
}

func TestRewritePresence_MucDisabledStillRewrites(t *testing.T) {
	in := `<presence to='room@muc.pvp.net'><show>chat</show></presence>`
	out, _ := RewritePresence(in, Offline, false, nil)
	assert.Contains(t, out, "<show>offline</show>")
}

func TestRewritePresence_StripsAllGameBlocks(t *testing.T) {
	in := `<presence><show>chat</show><status>hi</status><games><bacon><st>chat</st></bacon><lion><st>chat</st></lion><keystone><st>chat</st></keystone><riot_client><st>chat</st></riot_client></games></presence>`
	out, _ := RewritePresence(in, Offline, true, nil)
	for _, tag := range []string{"bacon", "lion", "keystone", "riot_client", "status"} {
		assert.NotContains(t, out, "<"+tag+">")
	}
}

func TestRewritePresence_ExtractsValorantVersion(t *testing.T) {
	in := `<presence><show>chat</show><games><valorant><st>chat</st><p>eyJwYXJ0eVByZXNlbmNlRGF0YSI6eyJwYXJ0eUNsaWVudFZlcnNpb24iOiJyZWxlYXNlLTAxLjIzIn19</p></valorant></games></presence>`
	_, extracted := RewritePresence(in, Offline, true, nil)
	require.Equal(t, "release-01.23", extracted)
}

func TestRewritePresence_UnrecognizedChunkUnchanged(t *testing.T) {
	// A chunk with none of the rewritten tags passes through unchanged; no
	// substitution matches, so the recover path is not involved.
	in := "not xml at all"
	out, _ := RewritePresence(in, Offline, true, nil)
	assert.Equal(t, in, out)
}

func TestRewritePresence_SplitFragmentIsIdentity(t *testing.T) {
	// Simulates a chunk boundary landing mid-<presence>: the chunk still
	// contains "<presence", so handleIncoming routes it through
	// RewritePresence, but no inner tag is complete, so every substitution is
	// a no-op and the fragment is forwarded verbatim.
	in := `<presence><show>cha`
	out, _ := RewritePresence(in, Offline, true, nil)
	assert.Equal(t, in, out)
}

func TestInjectRosterItem(t *testing.T) {
	in := `<iq><query xmlns='jabber:iq:riotgames:roster'><item jid='friend@pvp.net'/></query></iq>`
	out := InjectRosterItem(in)
	assert.Contains(t, out, RosterMarker+RosterItem)
	assert.Contains(t, out, "friend@pvp.net")
}

func TestSyntheticPresenceContainsVersion(t *testing.T) {
	s := SyntheticPresence("release-01.23")
	assert.Contains(t, s, FakeJid)
	assert.Contains(t, s, "<show>chat</show>")
	wantValorant := base64.StdEncoding.EncodeToString([]byte(`{"isValid":true,"partyId":"00000000-0000-0000-0000-000000000000","partyClientVersion":"release-01.23","accountLevel":1000}`))
	assert.Contains(t, s, "<p>"+wantValorant+"</p>")
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"offline": Offline, "mobile": Mobile, "online": Online, "chat": Online}
	for s, want := range cases {
		got, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("bogus")
	assert.Error(t, err)
}
