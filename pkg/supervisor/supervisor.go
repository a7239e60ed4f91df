// Package supervisor owns the global presence-hiding session state: the
// current mode, the enabled flag, the live connection set, and the
// idle-shutdown timer (spec.md §4.4, component C5).
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rc-deceive/deceive/pkg/presence"
)

const idleShutdownDelay = 60 * time.Second
const introDelay = 10 * time.Second
const introGap = 250 * time.Millisecond

// Notifier is the external tray/CLI UI collaborator (out of scope per
// spec.md §1; a logging stub satisfies this in pkg/ui).
type Notifier interface {
	StatusChanged(mode presence.Mode, enabled bool)
}

// Supervisor is the sole mutator of the connection set and presence mode.
// Its mutable state is guarded by a single mutex, as required by spec.md §5.
type Supervisor struct {
	mu           sync.Mutex
	mode         presence.Mode
	enabled      bool
	connectToMuc bool
	connections  map[*ProxiedConnection]struct{}
	idleTimer    *time.Timer
	idleDelay    time.Duration
	introSent    bool

	chatTarget *chatTargetCell

	notifier    Notifier
	chatHandler ChatHandler

	stopOnce sync.Once
	stopped  chan struct{}

	onIdleShutdown func()
}

// New constructs a Supervisor with the given initial mode and MUC
// passthrough setting (spec.md §3, "Supervisor state").
func New(initialMode presence.Mode, connectToMuc bool, notifier Notifier) *Supervisor {
	s := &Supervisor{
		mode:         initialMode,
		enabled:      true,
		connectToMuc: connectToMuc,
		connections:  make(map[*ProxiedConnection]struct{}),
		idleDelay:    idleShutdownDelay,
		chatTarget:   newChatTargetCell(),
		notifier:     notifier,
		stopped:      make(chan struct{}),
	}
	s.chatHandler = s
	return s
}

// OnIdleShutdown registers the callback invoked when the idle-shutdown timer
// expires (spec.md §4.4 "Idle shutdown"). The timer calls Stop() itself
// before invoking fn; cmd/deceive wires fn to os.Exit(0).
func (s *Supervisor) OnIdleShutdown(fn func()) {
	s.mu.Lock()
	s.onIdleShutdown = fn
	s.mu.Unlock()
}

// StopSignal returns a channel closed when Stop() is called, for use by C3's
// accept-loop ChatTarget wait (spec.md §4.2 step 1).
func (s *Supervisor) StopSignal() <-chan struct{} {
	return s.stopped
}

// ChatTarget returns the recovered chat endpoint, if any.
func (s *Supervisor) ChatTarget() (ChatTarget, bool) {
	return s.chatTarget.Get()
}

// WaitChatTarget blocks until the chat target is known or Stop() is called.
func (s *Supervisor) WaitChatTarget() (ChatTarget, bool) {
	return s.chatTarget.Wait(s.stopped)
}

// SetChatTarget records the chat target discovered by the Config
// Interceptor. Returns false if a target was already set (spec.md §3
// invariant: written at most once).
func (s *Supervisor) SetChatTarget(t ChatTarget) bool {
	ok := s.chatTarget.Set(t)
	if ok {
		zap.L().Info("chat target discovered", zap.String("host", t.Host), zap.Uint16("port", t.Port))
	}
	return ok
}

// SetConnectToMuc updates whether MUC-addressed presence is forwarded
// verbatim regardless of mode (spec.md §3 "connectToMuc").
func (s *Supervisor) SetConnectToMuc(v bool) {
	s.mu.Lock()
	s.connectToMuc = v
	s.mu.Unlock()
}

// snapshot returns a consistent view of (mode, enabled, connectToMuc) under
// the supervisor lock, per spec.md §5's requirement that rewrites observe a
// consistent snapshot.
func (s *Supervisor) snapshot() (presence.Mode, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, s.enabled, s.connectToMuc
}

// effectiveMode returns Online whenever the user has disabled Deceive,
// regardless of their chosen mode (spec.md §3 invariant).
func (s *Supervisor) effectiveMode() presence.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return presence.Online
	}
	return s.mode
}

// NewConnection registers a newly accepted connection, cancels any pending
// idle-shutdown timer, and schedules the introduction sequence on first
// connect (spec.md §4.4 "Introduction sequence", §3 invariant on the idle
// timer).
func (s *Supervisor) NewConnection(client, upstream netConn) *ProxiedConnection {
	pc := newProxiedConnection(s, client, upstream)
	s.mu.Lock()
	first := len(s.connections) == 0
	s.connections[pc] = struct{}{}
	s.stopIdleTimerLocked()
	introSent := s.introSent
	if first && !introSent {
		s.introSent = true
	}
	s.mu.Unlock()

	if first && !introSent {
		s.scheduleIntro(pc)
	}
	return pc
}

// netConn is the minimal net.Conn-like surface supervisor needs; defined
// here to avoid importing net into this file's public signature directly.
type netConn = interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// remove drops a connection from the set; if the set becomes empty it arms
// the idle-shutdown timer (spec.md §3 invariant, §4.4 "Idle shutdown").
func (s *Supervisor) remove(pc *ProxiedConnection) {
	s.mu.Lock()
	delete(s.connections, pc)
	empty := len(s.connections) == 0
	s.mu.Unlock()

	if empty {
		s.armIdleTimer()
	}
}

func (s *Supervisor) stopIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

func (s *Supervisor) armIdleTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopIdleTimerLocked()
	delay := s.idleDelay
	s.idleTimer = time.AfterFunc(delay, func() {
		zap.L().Info("idle timeout reached, shutting down")
		s.Stop()
		if fn := s.onIdleShutdownFn(); fn != nil {
			fn()
		}
	})
}

func (s *Supervisor) onIdleShutdownFn() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onIdleShutdown
}

// snapshotConnections returns a point-in-time copy of the live connection
// set, so broadcasts don't race with concurrent accepts (spec.md §9).
func (s *Supervisor) snapshotConnections() []*ProxiedConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ProxiedConnection, 0, len(s.connections))
	for c := range s.connections {
		out = append(out, c)
	}
	return out
}

// onFirstAnnounce is called by a ProxiedConnection after it pushes its
// synthetic presence for the first time; currently informational only.
func (s *Supervisor) onFirstAnnounce(pc *ProxiedConnection) {
	zap.L().Debug("fake contact announced to client")
}

func (s *Supervisor) scheduleIntro(pc *ProxiedConnection) {
	time.AfterFunc(introDelay, func() {
		messages := []string{
			fmt.Sprintf("Welcome! Deceive is running and you are currently appearing %s. Despite what the game client may indicate, you are appearing offline to your friends unless you manually disable Deceive.", s.effectiveMode().Label()),
			"If you want to invite others while being offline, you may need to disable Deceive for them to accept. You can enable Deceive again as soon as they are in your lobby.",
			"To enable or disable Deceive, or to configure other settings, find Deceive in your tray icons.",
			"Have fun!",
		}
		for i, m := range messages {
			if !pc.Alive() {
				return
			}
			pc.SendFromFake(m)
			if i != len(messages)-1 {
				time.Sleep(introGap)
			}
		}
	})
}

// SetMode implements spec.md §4.4 SetMode.
func (s *Supervisor) SetMode(m presence.Mode) {
	s.mu.Lock()
	s.mode = m
	s.enabled = true
	connectToMuc := s.connectToMuc
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.StatusChanged(m, true)
	}
	s.broadcastStatus(m, connectToMuc)

	label := "online"
	if m != presence.Online {
		label = m.Token()
	}
	s.SendFromFake(fmt.Sprintf("You are now appearing %s.", label))
}

// ToggleEnabled implements spec.md §4.4 ToggleEnabled.
func (s *Supervisor) ToggleEnabled() {
	s.mu.Lock()
	s.enabled = !s.enabled
	enabled := s.enabled
	mode := s.mode
	connectToMuc := s.connectToMuc
	s.mu.Unlock()

	wire := mode
	if !enabled {
		wire = presence.Online
	}

	if s.notifier != nil {
		s.notifier.StatusChanged(mode, enabled)
	}
	s.broadcastStatus(wire, connectToMuc)

	if enabled {
		s.SendFromFake("Deceive is now enabled.")
	} else {
		s.SendFromFake("Deceive is now disabled.")
	}
}

func (s *Supervisor) broadcastStatus(mode presence.Mode, connectToMuc bool) {
	for _, c := range s.snapshotConnections() {
		c.UpdateStatus(mode, connectToMuc)
	}
}

// SendFromFake broadcasts a chat message from the fake contact to every live
// connection.
func (s *Supervisor) SendFromFake(text string) {
	for _, c := range s.snapshotConnections() {
		c.SendFromFake(text)
	}
}

// HandleChatToFake implements spec.md §4.4 "HandleChatToFake": command
// interpretation of chat messages addressed to the fake contact.
func (s *Supervisor) HandleChatToFake(conn *ProxiedConnection, content string) {
	lower := strings.ToLower(content)

	switch {
	case strings.Contains(lower, "offline"):
		s.SetMode(presence.Offline)
	case strings.Contains(lower, "mobile"):
		s.SetMode(presence.Mobile)
	case strings.Contains(lower, "online"):
		s.SetMode(presence.Online)
	case strings.Contains(lower, "enable"):
		s.mu.Lock()
		alreadyEnabled := s.enabled
		s.mu.Unlock()
		if alreadyEnabled {
			conn.SendFromFake("Deceive is already enabled.")
		} else {
			s.ToggleEnabled()
		}
	case strings.Contains(lower, "disable"):
		s.mu.Lock()
		alreadyDisabled := !s.enabled
		s.mu.Unlock()
		if alreadyDisabled {
			conn.SendFromFake("Deceive is already disabled.")
		} else {
			s.ToggleEnabled()
		}
	case strings.Contains(lower, "status"):
		conn.SendFromFake(fmt.Sprintf("You are appearing %s.", s.effectiveMode().Label()))
	case strings.Contains(lower, "help"):
		conn.SendFromFake("Commands: online, offline, mobile, enable, disable, status, help")
	}
}

// Stop implements spec.md §4.4 Stop: cancel the idle timer, close every
// connection, and signal dependents (C2/C3) to stop via StopSignal.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
	})

	s.mu.Lock()
	s.stopIdleTimerLocked()
	s.mu.Unlock()

	for _, c := range s.snapshotConnections() {
		c.close()
	}
}

// Context returns a context that cancels when Stop() is called. The Chat
// Interceptor ties each ProxiedConnection's splice loops to it so a
// supervisor shutdown unblocks them immediately instead of waiting on a
// socket read to fail.
func (s *Supervisor) Context(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

