// Package chatintercept implements the Chat Interceptor (C3): a
// TLS-terminating loopback listener that splices each accepted client
// connection to the real chat server and hands the byte streams to the
// Presence Rewriter via a supervisor.ProxiedConnection (spec.md §4.2).
package chatintercept

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rc-deceive/deceive/pkg/supervisor"
)

const chatTargetPollInterval = 100 * time.Millisecond

// Interceptor is the Chat Interceptor.
type Interceptor struct {
	sup      *supervisor.Supervisor
	listener net.Listener

	dialTimeout time.Duration

	fatal chan error
}

// New constructs a Chat Interceptor bound to sup for ChatTarget discovery
// and connection registration.
func New(sup *supervisor.Supervisor) *Interceptor {
	return &Interceptor{sup: sup, dialTimeout: 10 * time.Second, fatal: make(chan error, 1)}
}

// Fatal reports the accept loop's terminal error, if any. Consumed by
// cmd/deceive's startup errgroup alongside configintercept.Interceptor.Fatal.
func (ci *Interceptor) Fatal() <-chan error {
	return ci.fatal
}

// Start binds a TLS listener on 127.0.0.1:0 presenting cert/key and returns
// the bound port (spec.md §4.2).
func (ci *Interceptor) Start(cert tls.Certificate) (uint16, error) {
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", tlsCfg)
	if err != nil {
		return 0, fmt.Errorf("chatintercept: listen: %w", err)
	}
	ci.listener = ln

	port := ln.Addr().(*net.TCPAddr).Port
	zap.L().Info("chat interceptor listening", zap.Int("port", port))

	go ci.acceptLoop(ln)

	return uint16(port), nil
}

// Stop closes the listener; it does not itself close live connections (that
// is the supervisor's job via Stop()).
func (ci *Interceptor) Stop() error {
	if ci.listener == nil {
		return nil
	}
	return ci.listener.Close()
}

func (ci *Interceptor) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ci.sup.StopSignal():
				return
			default:
			}
			zap.L().Error("chat interceptor accept error", zap.Error(err))
			select {
			case ci.fatal <- fmt.Errorf("chatintercept: %w", err):
			default:
			}
			return
		}
		go ci.handleAccept(conn)
	}
}

// handleAccept implements spec.md §4.2's per-accept behavior: buffer client
// bytes until ChatTarget is known (polling at chatTargetPollInterval
// granularity, since the client has been observed to write before the
// config fetch completes), then dial upstream and hand off to a
// ProxiedConnection.
func (ci *Interceptor) handleAccept(client net.Conn) {
	buffered, ok := ci.drainUntilTargetKnown(client)
	if !ok {
		_ = client.Close()
		return
	}

	target, ok := ci.sup.WaitChatTarget()
	if !ok {
		_ = client.Close()
		return
	}

	upstream, err := ci.dialUpstream(target)
	if err != nil {
		zap.L().Error("failed dialing upstream chat server", zap.String("host", target.Host), zap.Error(err))
		_ = client.Close()
		return
	}

	pc := ci.sup.NewConnection(client, upstream)
	pc.Run(ci.sup.Context(context.Background()), buffered)
}

// drainUntilTargetKnown buffers client bytes in FIFO order while ChatTarget
// is unknown. It returns immediately (with no buffered bytes) once the
// target is already known. ok is false if Stop() fired before the target
// became known.
func (ci *Interceptor) drainUntilTargetKnown(client net.Conn) ([][]byte, bool) {
	if _, known := ci.sup.ChatTarget(); known {
		return nil, true
	}

	var buffered [][]byte
	buf := make([]byte, 32*1024)
	_ = client.SetReadDeadline(time.Now().Add(chatTargetPollInterval))

	for {
		if _, known := ci.sup.ChatTarget(); known {
			return buffered, true
		}
		select {
		case <-ci.sup.StopSignal():
			return buffered, false
		default:
		}

		n, err := client.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			buffered = append(buffered, chunk)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				_ = client.SetReadDeadline(time.Now().Add(chatTargetPollInterval))
				continue
			}
			return buffered, false
		}
	}
}

func (ci *Interceptor) dialUpstream(t supervisor.ChatTarget) (net.Conn, error) {
	addr := net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
	dialer := &net.Dialer{Timeout: ci.dialTimeout}
	// Peer verification is intentionally disabled: the game client has
	// already been reconfigured to accept a bad certificate on this path
	// (spec.md §1 Non-goals, §4.2 step 2).
	return tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec
}
