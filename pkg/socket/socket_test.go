package socket

import (
	"io"
	"net/netip"
	"testing"
	"time"

	"tcpip-core/pkg/tcpmsg"
	"tcpip-core/pkg/wrap"
)

// wiredTransport connects two Tables directly in memory, standing in for
// the node runtime's UDP-backed pkg/headers + pkg/router path.
type wiredTransport struct {
	peer *Table
	// swap maps a socket's (local,remote) addressing onto the peer's view,
	// where local/remote are reversed.
}

func (w *wiredTransport) SendSegment(ft FourTuple, msg tcpmsg.Sender, ackno wrap.Wrap32, hasAck bool, window uint16) {
	// Dispatch on a separate goroutine, standing in for the real delivery
	// path (serialize onto UDP, land in the peer node's own read loop) so
	// that a burst of segments triggered while a socket's own lock is held
	// doesn't re-enter that same lock on this call stack.
	go w.peer.DispatchSegment(ft.RemoteAddr, ft.RemotePort, ft.LocalAddr, ft.LocalPort, msg, ackno, hasAck, window)
}

// eventually polls cond until it returns true or the deadline passes,
// needed because segment delivery between the two wired tables happens on
// a background goroutine.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition never became true")
}

func newWiredPair(t *testing.T) (clientTable, serverTable *Table) {
	t.Helper()
	clientTable = NewTable(nil)
	serverTable = NewTable(nil)
	clientTable.transport = &wiredTransport{peer: serverTable}
	serverTable.transport = &wiredTransport{peer: clientTable}
	return clientTable, serverTable
}

func TestConnectAcceptHandshake(t *testing.T) {
	clientTable, serverTable := newWiredPair(t)

	serverIP := netip.MustParseAddr("10.0.0.2")
	clientIP := netip.MustParseAddr("10.0.0.1")

	listener, err := serverTable.VListen(serverIP, 9000)
	if err != nil {
		t.Fatalf("VListen: %v", err)
	}

	type result struct {
		sock *Socket
		err  error
	}
	acceptCh := make(chan result, 1)
	go func() {
		s, err := listener.VAccept()
		acceptCh <- result{s, err}
	}()

	clientSock, err := clientTable.VConnect(clientIP, serverIP, 9000)
	if err != nil {
		t.Fatalf("VConnect: %v", err)
	}
	if clientSock.State() != StateEstablished {
		t.Fatalf("expected client ESTABLISHED, got %v", clientSock.State())
	}

	select {
	case r := <-acceptCh:
		if r.err != nil {
			t.Fatalf("VAccept: %v", r.err)
		}
		if r.sock.State() != StateEstablished {
			t.Fatalf("expected server socket ESTABLISHED, got %v", r.sock.State())
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for VAccept")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	clientTable, serverTable := newWiredPair(t)
	serverIP := netip.MustParseAddr("10.0.0.2")
	clientIP := netip.MustParseAddr("10.0.0.1")

	listener, _ := serverTable.VListen(serverIP, 9001)
	acceptCh := make(chan *Socket, 1)
	go func() {
		s, _ := listener.VAccept()
		acceptCh <- s
	}()

	clientSock, err := clientTable.VConnect(clientIP, serverIP, 9001)
	if err != nil {
		t.Fatalf("VConnect: %v", err)
	}
	serverSock := <-acceptCh

	n, err := clientSock.VWrite([]byte("hello, world"))
	if err != nil || n != len("hello, world") {
		t.Fatalf("VWrite: n=%d err=%v", n, err)
	}

	buf := make([]byte, 64)
	total := 0
	eventually(t, func() bool {
		n, err := serverSock.VRead(buf[total:])
		total += n
		return err == nil && total >= len("hello, world")
	})
	if string(buf[:total]) != "hello, world" {
		t.Fatalf("expected round-tripped payload, got %q", string(buf[:total]))
	}
}

func TestCloseSendsFINAndReadReturnsEOF(t *testing.T) {
	clientTable, serverTable := newWiredPair(t)
	serverIP := netip.MustParseAddr("10.0.0.2")
	clientIP := netip.MustParseAddr("10.0.0.1")

	listener, _ := serverTable.VListen(serverIP, 9002)
	acceptCh := make(chan *Socket, 1)
	go func() {
		s, _ := listener.VAccept()
		acceptCh <- s
	}()

	clientSock, err := clientTable.VConnect(clientIP, serverIP, 9002)
	if err != nil {
		t.Fatalf("VConnect: %v", err)
	}
	serverSock := <-acceptCh

	clientSock.VWrite([]byte("bye"))
	if err := clientSock.VClose(); err != nil {
		t.Fatalf("VClose: %v", err)
	}

	buf := make([]byte, 64)
	total := 0
	var readErr error
	eventually(t, func() bool {
		n, err := serverSock.VRead(buf[total:])
		total += n
		if err != nil {
			readErr = err
			return true
		}
		return false
	})
	if string(buf[:total]) != "bye" {
		t.Fatalf("expected \"bye\" before EOF, got %q (err=%v)", string(buf[:total]), readErr)
	}
	if readErr != io.EOF {
		t.Fatalf("expected io.EOF after FIN drained, got %v", readErr)
	}
}
