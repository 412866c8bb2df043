package proxy

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestBridge(t *testing.T) {
	a1, a2 := net.Pipe()
	b1, b2 := net.Pipe()

	done := make(chan struct{})
	var aToB, bToA int64
	go func() {
		aToB, bToA = Bridge(a2, b1)
		close(done)
	}()

	go func() {
		a1.Write([]byte("hello"))
		a1.Close()
	}()

	buf := make([]byte, 5)
	if _, err := b2.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("expected hello, got %q", buf)
	}
	b2.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not return after close")
	}

	if aToB != 5 {
		t.Errorf("expected 5 bytes a->b, got %d", aToB)
	}
	if bToA != 0 {
		t.Errorf("expected 0 bytes b->a, got %d", bToA)
	}
}

// Both directions carry traffic while Bridge returns on the first EOF, so
// the count of the still-running direction is read concurrently with that
// copy goroutine. The counts must be published safely: the finished
// direction reports its exact total, the in-flight one reports zero or
// its final value, never garbage.
func TestBridgeCountsUnderBidirectionalTraffic(t *testing.T) {
	a1, a2 := net.Pipe()
	b1, b2 := net.Pipe()
	defer a1.Close()
	defer a2.Close()
	defer b1.Close()
	defer b2.Close()

	results := make(chan [2]int64, 1)
	go func() {
		x, y := Bridge(a2, b1)
		results <- [2]int64{x, y}
	}()

	// Keep the b->a direction busy while a->b finishes.
	go b2.Write(make([]byte, 16))
	go io.Copy(io.Discard, a1)

	if _, err := a1.Write([]byte("12345678")); err != nil {
		t.Fatalf("write a->b: %v", err)
	}
	buf := make([]byte, 8)
	if _, err := io.ReadFull(b2, buf); err != nil {
		t.Fatalf("read a->b: %v", err)
	}
	a1.Close()

	select {
	case r := <-results:
		if r[0] != 8 {
			t.Errorf("expected 8 bytes a->b, got %d", r[0])
		}
		if r[1] != 0 && r[1] != 16 {
			t.Errorf("expected 0 or 16 bytes b->a, got %d", r[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not return after a-side close")
	}
}
