package flowgate

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatedListenerTracksConnections(t *testing.T) {
	g, _, _ := newTestGate(t, 1)

	ln, err := Listen("127.0.0.1:0", g)
	require.NoError(t, err)
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	server, err := ln.Accept()
	require.NoError(t, err)

	// The accepted flow is registered and admitted active.
	assert.Equal(t, 1, g.reg.Len())
	active, paused := g.queues.snapshot()
	require.Len(t, active, 1)
	assert.Empty(t, paused)

	// The wrapper is transparent to traffic.
	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	// Close deregisters before returning; the queue keeps the ghost.
	require.NoError(t, server.Close())
	assert.Equal(t, 0, g.reg.Len())
	active, _ = g.queues.snapshot()
	assert.Len(t, active, 1)

	// A second Close propagates the underlying error without touching
	// the gate again.
	assert.Error(t, server.Close())
}

func TestGatedListenerExcessFlowPaused(t *testing.T) {
	g, fe, _ := newTestGate(t, 1)

	ln, err := Listen("127.0.0.1:0", g)
	require.NoError(t, err)
	defer ln.Close()

	var conns []net.Conn
	for i := 0; i < 2; i++ {
		c, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		defer c.Close()

		s, err := ln.Accept()
		require.NoError(t, err)
		defer s.Close()
		conns = append(conns, s)
	}

	active, paused := g.queues.snapshot()
	assert.Len(t, active, 1)
	assert.Len(t, paused, 1)

	// The excess flow was throttled at admission.
	calls := fe.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "setzero", calls[0].op)
}
