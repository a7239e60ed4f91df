// Package configintercept implements the Config Interceptor (C2): a
// loopback HTTP reverse proxy that rewrites the game client's bootstrap
// configuration fetch so its chat connection lands on the Chat Interceptor
// instead of the real chat server (spec.md §4.1).
package configintercept

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	bootstrapBase = "https://clientconfig.rpg.riotgames.com"
	pasURL        = "https://riot-geo.pas.si.riotgames.com/pas/v1/service/chat"

	fieldChatHost           = "chat.host"
	fieldChatPort           = "chat.port"
	fieldChatAffinities     = "chat.affinities"
	fieldChatAffinityOn     = "chat.affinity.enabled"
	fieldChatAllowBadCert   = "chat.allow_bad_cert.enabled"
	headerAuthorization     = "Authorization"
	headerEntitlementsJWT   = "X-Riot-Entitlements-JWT"
	headerUserAgent         = "User-Agent"
	pasRequestTimeout       = 5 * time.Second
	affinityCacheExpiration = 10 * time.Minute
	affinityBurst           = 3
)

// Target is the chat endpoint recovered from a successful bootstrap
// response (spec.md §3 ChatTarget).
type Target struct {
	Host string
	Port uint16
}

// Interceptor is the Config Interceptor. Construct with New, call Start to
// bind its loopback listener, and read ChatTargetSeen for the one-shot
// discovery event.
type Interceptor struct {
	chatPort uint16
	client   *http.Client

	// bootstrapBase and pasURL default to the real Riot endpoints; tests
	// override them to point at a local httptest server.
	bootstrapBase string
	pasURL        string

	ChatTargetSeen chan Target

	emitOnce sync.Once

	affinityCache   *cache.Cache
	affinityLimiter *rate.Limiter

	server   *http.Server
	listener net.Listener

	fatal chan error
}

// New constructs a Config Interceptor that rewrites chat.port to chatPort
// (the Chat Interceptor's bound port).
func New(chatPort uint16) *Interceptor {
	return &Interceptor{
		chatPort:        chatPort,
		client:          &http.Client{Timeout: 15 * time.Second},
		bootstrapBase:   bootstrapBase,
		pasURL:          pasURL,
		ChatTargetSeen:  make(chan Target, 1),
		affinityCache:   cache.New(affinityCacheExpiration, affinityCacheExpiration),
		affinityLimiter: rate.NewLimiter(rate.Every(time.Second), affinityBurst),
		fatal:           make(chan error, 1),
	}
}

// Fatal reports the server's terminal error, if any, once it has stopped
// unexpectedly. Consumed by cmd/deceive's startup errgroup so a C2 crash
// propagates instead of failing silently.
func (ci *Interceptor) Fatal() <-chan error {
	return ci.fatal
}

// Start binds a loopback HTTP listener on an OS-assigned port, begins
// serving, and returns the bound port.
func (ci *Interceptor) Start() (uint16, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("configintercept: listen: %w", err)
	}
	ci.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", ci.handle)
	ci.server = &http.Server{Handler: mux}

	go func() {
		if err := ci.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			zap.L().Error("config interceptor server stopped", zap.Error(err))
			ci.fatal <- fmt.Errorf("configintercept: %w", err)
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	zap.L().Info("config interceptor listening", zap.Int("port", port))
	return uint16(port), nil
}

// Stop closes the listener.
func (ci *Interceptor) Stop() error {
	if ci.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ci.server.Shutdown(ctx)
}

func (ci *Interceptor) handle(w http.ResponseWriter, r *http.Request) {
	upstreamURL := ci.bootstrapBase + r.URL.Path
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, nil)
	if err != nil {
		zap.L().Error("failed building upstream request", zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	for _, h := range []string{headerUserAgent, headerAuthorization, headerEntitlementsJWT} {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	resp, err := ci.client.Do(req)
	if err != nil {
		zap.L().Error("upstream config fetch failed", zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		zap.L().Error("failed reading upstream body", zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(body)
		return
	}

	rewritten, err := ci.rewrite(r.Context(), body, r.Header.Get(headerAuthorization))
	if err != nil {
		zap.L().Warn("bootstrap body parse failed, forwarding unmodified", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rewritten)
}

// rewrite implements spec.md §4.1's per-response mutation sequence.
func (ci *Interceptor) rewrite(ctx context.Context, body []byte, authHeader string) ([]byte, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("configintercept: parse body: %w", err)
	}

	var candidateHost string
	var candidatePort uint16

	if h, ok := doc[fieldChatHost].(string); ok {
		candidateHost = h
		doc[fieldChatHost] = "127.0.0.1"
	}
	if p, ok := doc[fieldChatPort].(float64); ok {
		candidatePort = uint16(p)
		doc[fieldChatPort] = ci.chatPort
	}
	if _, ok := doc[fieldChatAllowBadCert]; ok {
		doc[fieldChatAllowBadCert] = true
	}

	affinities, affinitiesOk := doc[fieldChatAffinities].(map[string]interface{})
	affinityEnabled, _ := doc[fieldChatAffinityOn].(bool)
	if affinitiesOk && affinityEnabled && authHeader != "" {
		if resolved, ok := ci.resolveAffinity(ctx, authHeader, affinities); ok {
			candidateHost = resolved
		}
	}

	if affinitiesOk {
		for k := range affinities {
			affinities[k] = "127.0.0.1"
		}
		doc[fieldChatAffinities] = affinities
	}

	if candidateHost != "" && candidatePort != 0 {
		ci.emitChatTarget(Target{Host: candidateHost, Port: candidatePort})
	}

	return json.Marshal(doc)
}

func (ci *Interceptor) emitChatTarget(t Target) {
	ci.emitOnce.Do(func() {
		select {
		case ci.ChatTargetSeen <- t:
		default:
		}
	})
}

// resolveAffinity performs the auxiliary PAS request (spec.md §4.1 step 4).
// Any failure is swallowed: the caller falls back to the pre-existing
// candidate host.
func (ci *Interceptor) resolveAffinity(ctx context.Context, authHeader string, affinities map[string]interface{}) (string, bool) {
	if cached, ok := ci.affinityCache.Get(authHeader); ok {
		aff, _ := cached.(string)
		if host, ok := affinities[aff].(string); ok {
			return host, true
		}
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, pasRequestTimeout)
	defer cancel()

	// Bound how often an uncached Authorization header can hit the PAS
	// round trip, so a slow or flapping geo service cannot stall the
	// config-fetch hot path under a burst of distinct tokens.
	if err := ci.affinityLimiter.Wait(ctx); err != nil {
		zap.L().Debug("PAS affinity request rate-limited", zap.Error(err))
		return "", false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ci.pasURL, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set(headerAuthorization, authHeader)

	resp, err := ci.client.Do(req)
	if err != nil {
		zap.L().Debug("PAS affinity request failed", zap.Error(err))
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	tokenBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false
	}

	aff, err := decodeAffinityFromJWT(strings.TrimSpace(string(tokenBytes)))
	if err != nil {
		zap.L().Debug("failed decoding PAS affinity JWT", zap.Error(err))
		return "", false
	}

	ci.affinityCache.Set(authHeader, aff, cache.DefaultExpiration)

	host, ok := affinities[aff].(string)
	return host, ok
}

func decodeAffinityFromJWT(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("configintercept: malformed JWT (%d segments)", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		// Some issuers use standard padding; fall back before giving up.
		payload, err = base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return "", err
		}
	}
	var claims struct {
		Affinity string `json:"affinity"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", err
	}
	if claims.Affinity == "" {
		return "", fmt.Errorf("configintercept: JWT has no affinity claim")
	}
	return claims.Affinity, nil
}
