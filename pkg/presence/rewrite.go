package presence

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var (
	showRe        = regexp.MustCompile(`(?s)<show>.*?</show>`)
	leagueStatRe  = regexp.MustCompile(`(?s)(<games>.*?<league_of_legends>.*?)<st>[^<]*</st>`)
	statusRe      = regexp.MustCompile(`(?s)<status>.*?</status>`)
	leagueBlockRe = regexp.MustCompile(`(?s)<league_of_legends>.*?</league_of_legends>`)
	pTagRe        = regexp.MustCompile(`(?s)<p>.*?</p>`)
	mTagRe        = regexp.MustCompile(`(?s)<m>.*?</m>`)
	valorantRe    = regexp.MustCompile(`(?s)<valorant>.*?</valorant>`)
	valorantPRe   = regexp.MustCompile(`(?s)<valorant>.*?<p>([^<]+)</p>`)
	toAttrRe      = regexp.MustCompile(` to=`)
	bodyRe        = regexp.MustCompile(`(?s)<body>(.*?)</body>`)
)

// ExtractBody returns the text content of the first <body> element in chunk,
// or "" if none is present.
func ExtractBody(chunk string) string {
	m := bodyRe.FindStringSubmatch(chunk)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}

var strippedBlocks = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<bacon>.*?</bacon>`),
	regexp.MustCompile(`(?s)<lion>.*?</lion>`),
	regexp.MustCompile(`(?s)<keystone>.*?</keystone>`),
	regexp.MustCompile(`(?s)<riot_client>.*?</riot_client>`),
}

// partyPresence mirrors the subset of the valorant <valorant><p>base64 JSON
// payload this rewriter cares about.
type partyPresence struct {
	PartyPresenceData struct {
		PartyClientVersion string `json:"partyClientVersion"`
	} `json:"partyPresenceData"`
}

// RewritePresence applies the mode-dependent substitutions described in
// spec.md §4.3.3 to a single outbound <presence> fragment. It never returns
// an error: on any internal failure the original chunk is returned unchanged
// (fail-open, per §7).
func RewritePresence(chunk string, mode Mode, connectToMuc bool, cachedValorantVersion *string) (out string, extractedVersion string) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("recovered panic in RewritePresence, forwarding original chunk", zap.Any("panic", r))
			out = chunk
			extractedVersion = ""
		}
	}()

	if connectToMuc && toAttrRe.MatchString(chunk) {
		return chunk, ""
	}

	// Online is pass-through: the client's own presence is forwarded
	// verbatim, with no substitution of any kind (spec.md §3, §8 property 5).
	if mode == Online {
		return chunk, ""
	}

	token := mode.Token()
	result := showRe.ReplaceAllString(chunk, "<show>"+token+"</show>")

	result = leagueStatRe.ReplaceAllStringFunc(result, func(m string) string {
		groups := leagueStatRe.FindStringSubmatch(m)
		if len(groups) < 2 {
			return m
		}
		return groups[1] + "<st>" + token + "</st>"
	})

	result = statusRe.ReplaceAllString(result, "")

	if cachedValorantVersion == nil || *cachedValorantVersion == "" {
		if vm := valorantPRe.FindStringSubmatch(result); len(vm) == 2 {
			if v, ok := decodePartyClientVersion(vm[1]); ok {
				extractedVersion = v
			}
		}
	}

	result = valorantRe.ReplaceAllString(result, "")

	if mode == Mobile {
		result = leagueBlockRe.ReplaceAllStringFunc(result, func(block string) string {
			block = replaceFirst(block, pTagRe, "")
			block = replaceFirst(block, mTagRe, "")
			return block
		})
	} else {
		result = leagueBlockRe.ReplaceAllString(result, "")
	}

	for _, re := range strippedBlocks {
		result = re.ReplaceAllString(result, "")
	}

	return result, extractedVersion
}

// replaceFirst replaces only the first match of re within s.
func replaceFirst(s string, re *regexp.Regexp, repl string) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + repl + s[loc[1]:]
}

func decodePartyClientVersion(b64 string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", false
	}
	var p partyPresence
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", false
	}
	if p.PartyPresenceData.PartyClientVersion == "" {
		return "", false
	}
	return p.PartyPresenceData.PartyClientVersion, true
}

// ContainsPresenceOpen reports whether a chunk contains an outbound
// <presence stanza open tag.
func ContainsPresenceOpen(chunk string) bool {
	return strings.Contains(chunk, "<presence")
}
