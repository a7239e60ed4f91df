package chatintercept

import (
	"bufio"
	"crypto/tls"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rc-deceive/deceive/pkg/certs"
	"github.com/rc-deceive/deceive/pkg/presence"
	"github.com/rc-deceive/deceive/pkg/supervisor"
)

type noopNotifier struct{}

func (noopNotifier) StatusChanged(presence.Mode, bool) {}

func testCert(t *testing.T) tls.Certificate {
	t.Helper()
	dir := t.TempDir()
	p, err := certs.LoadOrGenerate(dir+"/c.pem", dir+"/k.pem")
	require.NoError(t, err)
	cert, err := p.TLSCertificate()
	require.NoError(t, err)
	return cert
}

// fakeUpstream is a bare TLS listener standing in for the real chat server.
func fakeUpstream(t *testing.T) (addr string, accepted chan net.Conn) {
	t.Helper()
	cert := testCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	accepted = make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String(), accepted
}

func TestChatIntercept_BuffersUntilTargetKnownThenSplices(t *testing.T) {
	upstreamAddr, accepted := fakeUpstream(t)
	host, portStr, err := net.SplitHostPort(upstreamAddr)
	require.NoError(t, err)

	sup := supervisor.New(presence.Offline, true, noopNotifier{})
	ci := New(sup)
	cert := testCert(t)
	port, err := ci.Start(cert)
	require.NoError(t, err)
	defer ci.Stop()

	clientConn, err := tls.Dial("tcp", "127.0.0.1:"+strconv.Itoa(int(port)), &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer clientConn.Close()

	// Write before the chat target is known; per spec.md §4.2 step 1 these
	// bytes must be buffered, not dropped.
	_, err = clientConn.Write([]byte(`<presence><show>chat</show></presence>`))
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond) // let the poll loop observe the write

	portNum, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	sup.SetChatTarget(supervisor.ChatTarget{Host: host, Port: uint16(portNum)})

	upConn := <-accepted
	r := bufio.NewReader(upConn)
	buf := make([]byte, 4096)
	upConn.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "<show>offline</show>")
}
