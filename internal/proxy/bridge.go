package proxy

import (
	"io"
	"sync/atomic"
)

// Bridge copies bytes between a and b in both directions and returns once
// one direction reaches EOF or errors. The returned totals are published
// atomically when each copy finishes; the direction still in flight at
// return reports zero, not a partial count.
func Bridge(a, b io.ReadWriter) (aToB, bToA int64) {
	var na, nb atomic.Int64
	done := make(chan struct{}, 2)
	cp := func(dst io.Writer, src io.Reader, n *atomic.Int64) {
		c, _ := io.Copy(dst, src)
		n.Store(c)
		done <- struct{}{}
	}
	go cp(b, a, &na)
	go cp(a, b, &nb)
	<-done
	return na.Load(), nb.Load()
}
