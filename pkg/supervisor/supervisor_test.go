package supervisor

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rc-deceive/deceive/pkg/presence"
)

type noopNotifier struct{}

func (noopNotifier) StatusChanged(presence.Mode, bool) {}

// newTestConn wires a ProxiedConnection's client/upstream sides to in-process
// net.Pipe ends that the test can read/write directly, avoiding any real
// sockets or TLS handshake.
func newTestConn(t *testing.T, sup *Supervisor) (pc *ProxiedConnection, clientSide, upstreamSide net.Conn) {
	t.Helper()
	clientA, clientB := net.Pipe()
	upA, upB := net.Pipe()
	pc = sup.NewConnection(clientB, upA)
	return pc, clientA, upB
}

func TestChatTargetWriteOnce(t *testing.T) {
	sup := New(presence.Offline, true, noopNotifier{})
	assert.True(t, sup.SetChatTarget(ChatTarget{Host: "a", Port: 1}))
	assert.False(t, sup.SetChatTarget(ChatTarget{Host: "b", Port: 2}))
	got, ok := sup.ChatTarget()
	require.True(t, ok)
	assert.Equal(t, ChatTarget{Host: "a", Port: 1}, got)
}

func TestHandleChatToFake_ModeCommandsPriority(t *testing.T) {
	sup := New(presence.Online, true, noopNotifier{})
	pc, clientSide, upstreamSide := newTestConn(t, sup)
	go discard(upstreamSide)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pc.Run(ctx, nil)
	pc.rosterPatched.Store(true)

	r := bufio.NewReader(clientSide)

	// "offline" outranks the lower-priority "mobile" in the same message.
	go sup.HandleChatToFake(pc, "please go offline now, not mobile")

	line := readStanza(t, r)
	assert.Contains(t, line, "You are now appearing offline.")

	mode, enabled, _ := sup.snapshot()
	assert.Equal(t, presence.Offline, mode)
	assert.True(t, enabled)
}

func TestHandleChatToFake_Status(t *testing.T) {
	sup := New(presence.Mobile, true, noopNotifier{})
	pc, clientSide, upstreamSide := newTestConn(t, sup)
	go discard(upstreamSide)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pc.Run(ctx, nil)

	pc.rosterPatched.Store(true)
	r := bufio.NewReader(clientSide)
	go sup.HandleChatToFake(pc, "status")
	line := readStanza(t, r)
	assert.Contains(t, line, "You are appearing mobile.")
}

func TestToggleEnabled_AlreadyEnabledIsNoop(t *testing.T) {
	sup := New(presence.Online, true, noopNotifier{})
	pc, clientSide, upstreamSide := newTestConn(t, sup)
	go discard(upstreamSide)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pc.Run(ctx, nil)
	pc.rosterPatched.Store(true)

	r := bufio.NewReader(clientSide)
	go sup.HandleChatToFake(pc, "enable")
	line := readStanza(t, r)
	assert.Contains(t, line, "already enabled")
}

func TestIdleShutdown_ArmsOnlyAfterTransition(t *testing.T) {
	sup := New(presence.Offline, true, noopNotifier{})
	sup.idleDelay = 20 * time.Millisecond
	shutdown := make(chan struct{})
	sup.OnIdleShutdown(func() { close(shutdown) })

	// No connection ever accepted: nothing should fire, since the idle
	// timer only arms on a non-empty -> empty transition (spec.md §3).
	select {
	case <-shutdown:
		t.Fatal("idle shutdown fired without any prior connection")
	case <-time.After(50 * time.Millisecond):
	}

	pc, clientSide, upstreamSide := newTestConn(t, sup)
	_ = clientSide
	_ = upstreamSide
	pc.close()

	select {
	case <-shutdown:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("idle shutdown did not fire after connection set became empty")
	}
}

func discard(c net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}

func readStanza(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := r.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}
