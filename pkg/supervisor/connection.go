package supervisor

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/rc-deceive/deceive/pkg/errs"
	"github.com/rc-deceive/deceive/pkg/presence"
)

// ErrClosedConn is returned by writes attempted after the connection has
// been torn down.
var ErrClosedConn = errors.New("proxied connection is closed")

// ChatHandler receives chat messages a client addressed to the fake contact
// (spec.md §4.4).
type ChatHandler interface {
	HandleChatToFake(conn *ProxiedConnection, body string)
}

// ProxiedConnection is a per-client session: the spliced pair of the
// TLS-terminated client socket and the dialed-upstream chat socket, plus the
// Presence Rewriter's per-connection state (spec.md §3).
type ProxiedConnection struct {
	client   net.Conn
	upstream net.Conn

	sup *Supervisor

	upMu  sync.Mutex // totally orders writes to upstream
	cliMu sync.Mutex // totally orders writes to client

	mu                    sync.Mutex // protects lastPresenceFragment
	lastPresenceFragment  []byte
	rosterPatched         atomic.Bool
	fakeContactAnnounced  atomic.Bool
	cachedValorantVersion atomic.String
	alive                 atomic.Bool

	closeOnce sync.Once
	cancel    context.CancelFunc
}

func newProxiedConnection(sup *Supervisor, client, upstream net.Conn) *ProxiedConnection {
	pc := &ProxiedConnection{
		client:   client,
		upstream: upstream,
		sup:      sup,
	}
	pc.alive.Store(true)
	return pc
}

// Alive reports whether both endpoints are still open.
func (pc *ProxiedConnection) Alive() bool {
	return pc.alive.Load()
}

// Run splices the two sockets through the Presence Rewriter until either
// side closes or errors, then tears the connection down. buffered holds any
// client bytes accepted before ChatTarget was known (spec.md §4.2 step 1)
// and must be dispatched first, in order.
func (pc *ProxiedConnection) Run(ctx context.Context, buffered [][]byte) {
	ctx, cancel := context.WithCancel(ctx)
	pc.cancel = cancel
	defer pc.close()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		pc.readLoopUpstream(ctx)
	}()
	go func() {
		defer wg.Done()
		for _, b := range buffered {
			if !pc.Alive() {
				return
			}
			pc.handleIncoming(b)
		}
		pc.readLoopClient(ctx)
	}()

	wg.Wait()
}

func (pc *ProxiedConnection) readLoopClient(ctx context.Context) {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := pc.client.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			pc.handleIncoming(chunk)
		}
		if err != nil {
			if !errs.Fatal(err) {
				zap.L().Debug("client read error", zap.Error(err))
			}
			return
		}
	}
}

func (pc *ProxiedConnection) readLoopUpstream(ctx context.Context) {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := pc.upstream.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			pc.handleOutgoing(chunk)
		}
		if err != nil {
			if !errs.Fatal(err) {
				zap.L().Debug("upstream read error", zap.Error(err))
			}
			return
		}
	}
}

// handleIncoming implements spec.md §4.3.1: client -> upstream.
func (pc *ProxiedConnection) handleIncoming(chunk []byte) {
	text := string(chunk)
	mode, enabled, connectToMuc := pc.sup.snapshot()

	switch {
	case presence.ContainsPresenceOpen(text) && enabled:
		var cached *string
		if v := pc.cachedValorantVersion.Load(); v != "" {
			cached = &v
		}
		rewritten, extracted := presence.RewritePresence(text, mode, connectToMuc, cached)
		if extracted != "" {
			pc.cachedValorantVersion.Store(extracted)
		}
		pc.writeUpstream([]byte(rewritten))
		pc.setLastPresenceFragment(chunk)
	case presence.ContainsFakeJid(text):
		if pc.sup.chatHandler != nil {
			pc.sup.chatHandler.HandleChatToFake(pc, presence.ExtractBody(text))
		}
	default:
		pc.writeUpstream(chunk)
	}

	pc.announceFakeContactIfNeeded()
}

// handleOutgoing implements spec.md §4.3.2: upstream -> client.
func (pc *ProxiedConnection) handleOutgoing(chunk []byte) {
	text := string(chunk)
	if !pc.rosterPatched.Load() && strings.Contains(text, presence.RosterMarker) {
		mutated := presence.InjectRosterItem(text)
		pc.writeClient([]byte(mutated))
		// Set only after the patched roster has been written, so the
		// synthetic presence can never overtake it on the client socket.
		pc.rosterPatched.Store(true)
		return
	}
	pc.writeClient(chunk)
}

// announceFakeContactIfNeeded writes the synthetic presence stanza back to
// the client exactly once, the first time it is reachable after the roster
// has been patched (spec.md §4.3.1 step 4). rosterPatched is stored by
// handleOutgoing (a different goroutine) only after the patched roster chunk
// has been written to the client, and is observed here via an atomic load,
// so the roster write happens-before this announcement, satisfying the
// ordering invariant in spec.md §5.
func (pc *ProxiedConnection) announceFakeContactIfNeeded() {
	if !pc.rosterPatched.Load() {
		return
	}
	if !pc.fakeContactAnnounced.CAS(false, true) {
		return
	}
	stanza := presence.SyntheticPresence(pc.cachedValorantVersion.Load())
	pc.writeClient([]byte(stanza))
	pc.sup.onFirstAnnounce(pc)
}

func (pc *ProxiedConnection) setLastPresenceFragment(chunk []byte) {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	pc.mu.Lock()
	pc.lastPresenceFragment = cp
	pc.mu.Unlock()
}

// UpdateStatus re-runs RewritePresence over the last observed client
// presence fragment under the new mode and writes the result upstream
// (spec.md §4.4). It is a no-op if no presence fragment has been seen.
func (pc *ProxiedConnection) UpdateStatus(mode presence.Mode, connectToMuc bool) {
	pc.mu.Lock()
	frag := pc.lastPresenceFragment
	pc.mu.Unlock()
	if frag == nil {
		return
	}
	var cached *string
	if v := pc.cachedValorantVersion.Load(); v != "" {
		cached = &v
	}
	rewritten, extracted := presence.RewritePresence(string(frag), mode, connectToMuc, cached)
	if extracted != "" {
		pc.cachedValorantVersion.Store(extracted)
	}
	pc.writeUpstream([]byte(rewritten))
}

// SendFromFake writes a synthetic chat message from the fake contact back to
// the client, per spec.md §4.3.4 (only once roster has been patched and the
// connection is alive).
func (pc *ProxiedConnection) SendFromFake(text string) {
	if !pc.rosterPatched.Load() || !pc.Alive() {
		return
	}
	stanza := presence.SyntheticChatMessage(text, time.Now())
	pc.writeClient([]byte(stanza))
}

func (pc *ProxiedConnection) writeUpstream(b []byte) {
	if !pc.Alive() {
		return
	}
	pc.upMu.Lock()
	defer pc.upMu.Unlock()
	if _, err := pc.upstream.Write(b); err != nil {
		zap.L().Debug("error writing upstream", zap.Error(err))
		pc.close()
	}
}

func (pc *ProxiedConnection) writeClient(b []byte) {
	if !pc.Alive() {
		return
	}
	pc.cliMu.Lock()
	defer pc.cliMu.Unlock()
	if _, err := pc.client.Write(b); err != nil {
		zap.L().Debug("error writing client", zap.Error(err))
		pc.close()
	}
}

// close tears down both endpoints exactly once (spec.md §3 invariant).
func (pc *ProxiedConnection) close() {
	pc.closeOnce.Do(func() {
		pc.alive.Store(false)
		if pc.cancel != nil {
			pc.cancel()
		}
		_ = pc.client.Close()
		_ = pc.upstream.Close()
		pc.sup.remove(pc)
	})
}
