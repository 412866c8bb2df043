package flowgate

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/hossein/flowgate/pkg/flowgate/rwnd"
)

// sockOps is the gate's view of per-socket syscalls. It exists so tests
// can drive the shim and scheduler without real sockets.
type sockOps interface {
	// flowKey derives the four-tuple for fd. ok is false when the socket
	// is not in a supported address family.
	flowKey(fd int) (key rwnd.FlowKey, ok bool, err error)
	setCongestionControl(fd int, name string) error
	congestionControl(fd int) (string, error)
	// triggerAck nudges the peer to re-evaluate the advertised window.
	// Best-effort; there is nothing useful to do with a failure.
	triggerAck(fd int)
}

type linuxSockOps struct{}

func newSockOps() sockOps { return linuxSockOps{} }

// flowKey reads both endpoint addresses of fd. Ports from the sockaddr
// are already host order; addresses arrive network order and are
// converted, matching the kernel map's key convention.
func (linuxSockOps) flowKey(fd int) (rwnd.FlowKey, bool, error) {
	local, err := unix.Getsockname(fd)
	if err != nil {
		return rwnd.FlowKey{}, false, fmt.Errorf("flowgate: getsockname fd=%d: %w", fd, err)
	}
	localIn, ok := local.(*unix.SockaddrInet4)
	if !ok {
		return rwnd.FlowKey{}, false, nil
	}

	remote, err := unix.Getpeername(fd)
	if err != nil {
		return rwnd.FlowKey{}, false, fmt.Errorf("flowgate: getpeername fd=%d: %w", fd, err)
	}
	remoteIn, ok := remote.(*unix.SockaddrInet4)
	if !ok {
		return rwnd.FlowKey{}, false, nil
	}

	return rwnd.FlowKey{
		LocalAddr:  binary.BigEndian.Uint32(localIn.Addr[:]),
		RemoteAddr: binary.BigEndian.Uint32(remoteIn.Addr[:]),
		LocalPort:  uint16(localIn.Port),
		RemotePort: uint16(remoteIn.Port),
	}, true, nil
}

func (linuxSockOps) setCongestionControl(fd int, name string) error {
	if err := unix.SetsockoptString(fd, unix.IPPROTO_TCP, unix.TCP_CONGESTION, name); err != nil {
		return fmt.Errorf("flowgate: setsockopt TCP_CONGESTION fd=%d: %w", fd, err)
	}
	return nil
}

func (linuxSockOps) congestionControl(fd int) (string, error) {
	name, err := unix.GetsockoptString(fd, unix.IPPROTO_TCP, unix.TCP_CONGESTION)
	if err != nil {
		return "", fmt.Errorf("flowgate: getsockopt TCP_CONGESTION fd=%d: %w", fd, err)
	}
	return strings.TrimRight(name, "\x00"), nil
}

// triggerAck reads TCP_CC_INFO purely for its side effect: the kernel
// emits an ACK carrying the current window, so the peer observes a
// just-changed override promptly instead of waiting for its own next
// transmission.
func (linuxSockOps) triggerAck(fd int) {
	_, _ = unix.GetsockoptString(fd, unix.IPPROTO_TCP, unix.TCP_CC_INFO)
}
