package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Error values surfaced by Dial, classifying the underlying Unix socket
// errno: ECONNREFUSED/ENOENT map to ErrNoServer, EACCES/EPERM to ErrAccess.
var (
	ErrNoServer = errors.New("ipc: no server listening on that socket")
	ErrAccess   = errors.New("ipc: permission denied connecting to socket")
)

// Client is a thin framed-message wrapper around a single Unix domain
// socket connection.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// Dial connects to the Unix domain socket at path.
func Dial(path string) (*Client, error) {
	addr := &net.UnixAddr{Name: path, Net: "unix"}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, classifyDialError(err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}, nil
}

func classifyDialError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) {
			switch sysErr.Err {
			case syscall.ECONNREFUSED, syscall.ENOENT:
				return fmt.Errorf("%s: %w", path(opErr), ErrNoServer)
			case syscall.EACCES, syscall.EPERM:
				return fmt.Errorf("%s: %w", path(opErr), ErrAccess)
			}
		}
	}
	return err
}

func path(opErr *net.OpError) string {
	if opErr.Addr != nil {
		return opErr.Addr.String()
	}
	return "unix socket"
}

// Send writes a single framed message.
func (c *Client) Send(payload []byte) error {
	return writeMessage(c.w, payload)
}

// Receive reads a single framed message, blocking until one arrives.
func (c *Client) Receive() ([]byte, error) {
	return readMessage(c.r)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
