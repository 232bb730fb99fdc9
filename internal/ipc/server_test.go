package ipc

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestServerClientRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")

	log := logrus.NewEntry(logrus.New())
	srv, err := Listen(sockPath, log)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	client, err := Dial(sockPath)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := client.Send([]byte{0xAA, 0xBB}); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-srv.Incoming:
		if len(got) != 2 || got[0] != 0xAA || got[1] != 0xBB {
			t.Fatalf("unexpected payload: %x", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the server to receive the message")
	}
}

func TestServerBroadcastsToClients(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	log := logrus.NewEntry(logrus.New())
	srv, err := Listen(sockPath, log)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	client, err := Dial(sockPath)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	// Give the accept loop a moment to register the connection before
	// broadcasting.
	time.Sleep(20 * time.Millisecond)
	srv.Broadcast([]byte{1, 2, 3})

	got, err := client.Receive()
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d bytes, want 3", len(got))
	}
}

func TestDialMissingSocketReturnsErrNoServer(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "missing.sock")
	if _, err := Dial(sockPath); !errors.Is(err, ErrNoServer) {
		t.Fatalf("Dial(nonexistent socket) = %v, want ErrNoServer", err)
	}
}

// TestServerBroadcastDoesNotBlockOnStalledClient reproduces the case where
// one connected client never reads: Broadcast must keep returning
// immediately (dropping frames for that client once its queue fills)
// rather than blocking on a direct socket write.
func TestServerBroadcastDoesNotBlockOnStalledClient(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	log := logrus.NewEntry(logrus.New())
	srv, err := Listen(sockPath, log)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	stalled, err := Dial(sockPath)
	if err != nil {
		t.Fatal(err)
	}
	defer stalled.Close()

	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Far more sends than the outbound queue can hold; none of
		// these should ever block on the stalled client's socket.
		for i := 0; i < outboundQueueSize*4; i++ {
			srv.Broadcast([]byte{byte(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a client that never reads")
	}
}
