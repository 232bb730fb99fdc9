package ipc

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// outboundQueueSize bounds the per-client outbound queue Broadcast feeds;
// a client that can't drain it fast enough loses frames rather than
// stalling every other client.
const outboundQueueSize = 64

// clientConn is one accepted connection plus its own bounded outbound
// queue and a dedicated writer goroutine, so a single slow reader can
// never block a write meant for anyone else.
type clientConn struct {
	conn   net.Conn
	outCh  chan []byte
	stopCh chan struct{}

	closeOnce sync.Once
}

// Server accepts client connections on a single Unix domain socket and
// fans each one's inbound/outbound framed messages through the channels
// it exposes. One Server corresponds to one named endpoint (e.g. the
// "in" or "out" side of a channel).
type Server struct {
	log      *logrus.Entry
	listener *net.UnixListener

	mu    sync.Mutex
	conns []*clientConn

	Incoming chan []byte
}

// Listen removes any stale socket file at path, creates a fresh Unix
// listener with world-writable permissions, and starts accepting
// connections in the background.
func Listen(path string, log *logrus.Entry) (*Server, error) {
	os.Remove(path)

	addr := &net.UnixAddr{Name: path, Net: "unix"}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("ipc: listening on %s: %w", path, err)
	}
	os.Chmod(path, 0777)

	s := &Server{
		log:      log,
		listener: listener,
		Incoming: make(chan []byte, 256),
	}
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed
		}

		cc := &clientConn{
			conn:   conn,
			outCh:  make(chan []byte, outboundQueueSize),
			stopCh: make(chan struct{}),
		}

		s.mu.Lock()
		s.conns = append(s.conns, cc)
		s.mu.Unlock()

		go s.readClient(cc)
		go s.writeClient(cc)
	}
}

func (s *Server) readClient(cc *clientConn) {
	defer s.dropConn(cc)

	r := bufio.NewReader(cc.conn)
	for {
		payload, err := readMessage(r)
		if err != nil {
			return
		}
		select {
		case s.Incoming <- payload:
		default:
			s.log.Warn("ipc: incoming queue full, dropping message")
		}
	}
}

// writeClient is the sole writer of cc.conn: it drains cc.outCh and
// performs the actual (potentially blocking) socket write, so Broadcast
// itself never touches the connection directly.
func (s *Server) writeClient(cc *clientConn) {
	defer s.dropConn(cc)

	w := bufio.NewWriter(cc.conn)
	for {
		select {
		case payload := <-cc.outCh:
			if err := writeMessage(w, payload); err != nil {
				s.log.WithError(err).Debug("ipc: write failed, dropping client")
				return
			}
		case <-cc.stopCh:
			return
		}
	}
}

func (s *Server) dropConn(cc *clientConn) {
	cc.closeOnce.Do(func() {
		cc.conn.Close()
		close(cc.stopCh)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conns {
		if c == cc {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
}

// Broadcast offers payload to every currently connected client's outbound
// queue with a non-blocking send; a client whose queue is already full
// loses this frame but stays connected, and never blocks delivery to
// anyone else.
func (s *Server) Broadcast(payload []byte) {
	s.mu.Lock()
	conns := append([]*clientConn(nil), s.conns...)
	s.mu.Unlock()

	for _, cc := range conns {
		select {
		case cc.outCh <- payload:
		default:
			s.log.Warn("ipc: outbound queue full, dropping frame for a lagging client")
		}
	}
}

// Close stops accepting new connections and closes every open one.
func (s *Server) Close() error {
	err := s.listener.Close()

	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, cc := range conns {
		s.dropConn(cc)
	}
	return err
}
