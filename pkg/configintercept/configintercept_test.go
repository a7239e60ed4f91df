package configintercept

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1 from spec.md §8: config rewrite, no affinity resolution requested.
func TestRewrite_NoAffinityLookup(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"chat.host":"chat.na.lol.riotgames.com","chat.port":5223,"chat.affinities":{"na1":"a","eu1":"b"},"chat.allow_bad_cert.enabled":false}`))
	}))
	defer upstream.Close()

	ci := New(54321)
	ci.bootstrapBase = upstream.URL

	req := httptest.NewRequest(http.MethodGet, "/clientconfig/v1/config/player?os=windows", nil)
	rec := httptest.NewRecorder()
	ci.handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "127.0.0.1", doc["chat.host"])
	assert.Equal(t, float64(54321), doc["chat.port"])
	assert.Equal(t, true, doc["chat.allow_bad_cert.enabled"])
	aff := doc["chat.affinities"].(map[string]interface{})
	assert.Equal(t, "127.0.0.1", aff["na1"])
	assert.Equal(t, "127.0.0.1", aff["eu1"])

	select {
	case target := <-ci.ChatTargetSeen:
		assert.Equal(t, Target{Host: "chat.na.lol.riotgames.com", Port: 5223}, target)
	default:
		t.Fatal("expected ChatTargetSeen to fire")
	}
}

func TestRewrite_WithAffinityLookup(t *testing.T) {
	// h.p.s JWT with payload {"affinity":"eu1"}
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"affinity":"eu1"}`))
	jwt := "header." + payload + ".sig"

	pas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(jwt))
	}))
	defer pas.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chat.host":"chat.na.lol.riotgames.com","chat.port":5223,"chat.affinities":{"na1":"a","eu1":"real-eu1-host"},"chat.affinity.enabled":true}`))
	}))
	defer upstream.Close()

	ci := New(9999)
	ci.bootstrapBase = upstream.URL
	ci.pasURL = pas.URL

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	ci.handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	target := <-ci.ChatTargetSeen
	assert.Equal(t, "real-eu1-host", target.Host)
	assert.Equal(t, uint16(5223), target.Port)
}

func TestRewrite_ChatTargetSeenFiresOnlyOnce(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chat.host":"a.example","chat.port":1}`))
	}))
	defer upstream.Close()

	ci := New(1)
	ci.bootstrapBase = upstream.URL

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/c", nil)
		rec := httptest.NewRecorder()
		ci.handle(rec, req)
	}

	count := 0
	for {
		select {
		case <-ci.ChatTargetSeen:
			count++
		default:
			assert.Equal(t, 1, count)
			return
		}
	}
}

func TestRewrite_UpstreamErrorRelayedAsBadGateway(t *testing.T) {
	ci := New(1)
	ci.bootstrapBase = "http://127.0.0.1:1" // nothing listening

	req := httptest.NewRequest(http.MethodGet, "/c", nil)
	rec := httptest.NewRecorder()
	ci.handle(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRewrite_NonJSONBodyForwardedUnmodified(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer upstream.Close()

	ci := New(1)
	ci.bootstrapBase = upstream.URL

	req := httptest.NewRequest(http.MethodGet, "/c", nil)
	rec := httptest.NewRecorder()
	ci.handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "not json", string(body))
}

func TestRewrite_NonOKUpstreamStatusRelayed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"forbidden"}`))
	}))
	defer upstream.Close()

	ci := New(1)
	ci.bootstrapBase = upstream.URL

	req := httptest.NewRequest(http.MethodGet, "/c", nil)
	rec := httptest.NewRecorder()
	ci.handle(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
