//go:build linux

package dstc

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// net_transport.go is the concrete best-effort transport: real UDP
// multicast datagrams for invocation payloads, plain TCP for the
// control mesh, all driven through raw non-blocking sockets so the
// same fds can be registered with the Engine's own epoll-based
// PollAdapter (spec §1 treats the *reliable* multicast transport —
// retransmission, repair windows — as an external collaborator; this
// is the "best-effort" stand-in that makes the module runnable end to
// end, documented as a deliberate simplification in DESIGN.md).

func ipv4(addr string) ([4]byte, error) {
	ip := net.ParseIP(addr).To4()
	if addr == "" {
		return [4]byte{0, 0, 0, 0}, nil
	}
	if ip == nil {
		return [4]byte{}, fmt.Errorf("dstc: %q is not an IPv4 address", addr)
	}
	var out [4]byte
	copy(out[:], ip)
	return out, nil
}

func newNonblockingSocket(typ int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func bindSocket(fd int, iface string, port int) error {
	addr, err := ipv4(iface)
	if err != nil {
		return err
	}
	return unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr})
}

func localPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return in4.Port, nil
	}
	return 0, fmt.Errorf("dstc: unexpected sockaddr type")
}

// --- control message wire framing (spec §6: node_id u32 LE + NUL-terminated name) ---

func encodeControlFrame(node NodeID, name string) []byte {
	frame := make([]byte, 4+len(name)+1)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(node))
	copy(frame[4:], name)
	frame[len(frame)-1] = 0
	return frame
}

// scanControlFrames extracts as many complete {node_id,name} frames
// as are present in buf, returning the frames found and the unused
// remainder.
func scanControlFrames(buf []byte) (frames []controlFrame, remainder []byte) {
	for {
		if len(buf) < 5 {
			break
		}
		nul := -1
		for i := 4; i < len(buf); i++ {
			if buf[i] == 0 {
				nul = i
				break
			}
		}
		if nul < 0 {
			break
		}
		node := NodeID(binary.LittleEndian.Uint32(buf[0:4]))
		frames = append(frames, controlFrame{node: node, name: string(buf[4:nul])})
		buf = buf[nul+1:]
	}
	return frames, buf
}

type controlFrame struct {
	node NodeID
	name string
}

// --- multicast announce beacon ---
//
// Peer discovery (spec §4.7's periodic announcement) rides the same multicast socket as invocation
// payloads but in a distinct, fixed-length frame a subscriber can tell
// apart from an invocation bundle by its magic prefix: the originating
// node id and the TCP control port a subscriber should Dial to
// establish the control link that completes its subscription.

const announceMagic uint32 = 0x64737463 // ASCII "dstc" read big-endian; sent little-endian, so the wire bytes are "ctsd"
const announceFrameLen = 4 + 4 + 4      // magic + node id + control port

func encodeAnnounce(node NodeID, controlPort int) []byte {
	b := make([]byte, announceFrameLen)
	binary.LittleEndian.PutUint32(b[0:4], announceMagic)
	binary.LittleEndian.PutUint32(b[4:8], uint32(node))
	binary.LittleEndian.PutUint32(b[8:12], uint32(controlPort))
	return b
}

// decodeAnnounce recognizes an announce beacon by exact length and
// magic prefix; anything else is left for the invocation-bundle path.
func decodeAnnounce(b []byte) (node NodeID, controlPort int, ok bool) {
	if len(b) != announceFrameLen {
		return 0, 0, false
	}
	if binary.LittleEndian.Uint32(b[0:4]) != announceMagic {
		return 0, 0, false
	}
	node = NodeID(binary.LittleEndian.Uint32(b[4:8]))
	controlPort = int(binary.LittleEndian.Uint32(b[8:12]))
	return node, controlPort, true
}

func ipString(addr [4]byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", addr[0], addr[1], addr[2], addr[3])
}

// --- publisher ---

type pubConn struct {
	fd   int
	used bool
	peer NodeID
	have bool // peer identity learned from its first control frame
	rbuf []byte
}

// NetPublisher is the Publisher side: a UDP send socket toward the
// multicast group, and a TCP listener accepting inbound control
// connections from subscribers.
type NetPublisher struct {
	nodeID NodeID
	log    Logger
	poll   PollAdapter

	sendFD    int
	groupAddr unix.SockaddrInet4

	listenerFD  int
	controlPort int

	mu    sync.Mutex
	conns []pubConn

	suspendAt, restartAt int
	inFlight             int
	suspended            bool

	announceEvery time.Duration
	lastAnnounce  time.Time

	onControlMessage func(peer NodeID, name string)
	onDisconnect     func(peer NodeID)

	maxPayload int
}

// listenerTokenIndex is the fixed token index for the publisher's TCP
// listener socket; accepted connections are indexed starting at 1.
const listenerTokenIndex uint32 = 0

// NewNetPublisher builds and registers the publisher side with poll.
func NewNetPublisher(cfg Config, nodeID NodeID, poll PollAdapter, log Logger) (*NetPublisher, error) {
	sendFD, err := newNonblockingSocket(unix.SOCK_DGRAM)
	if err != nil {
		return nil, fmt.Errorf("dstc: publisher send socket: %w", err)
	}
	if err := setMulticastTTL(sendFD, cfg.MulticastTTL); err != nil {
		unix.Close(sendFD)
		return nil, err
	}
	group, err := ipv4(cfg.MulticastGroup)
	if err != nil {
		unix.Close(sendFD)
		return nil, err
	}

	listenerFD, err := newNonblockingSocket(unix.SOCK_STREAM)
	if err != nil {
		unix.Close(sendFD)
		return nil, fmt.Errorf("dstc: publisher control listener: %w", err)
	}
	if err := bindSocket(listenerFD, cfg.ControlIface, cfg.ControlPort); err != nil {
		unix.Close(sendFD)
		unix.Close(listenerFD)
		return nil, err
	}
	if err := unix.Listen(listenerFD, 64); err != nil {
		unix.Close(sendFD)
		unix.Close(listenerFD)
		return nil, err
	}
	controlPort, err := localPort(listenerFD)
	if err != nil {
		unix.Close(sendFD)
		unix.Close(listenerFD)
		return nil, fmt.Errorf("dstc: reading control listener port: %w", err)
	}

	p := &NetPublisher{
		nodeID:      nodeID,
		log:         log,
		poll:        poll,
		sendFD:      sendFD,
		groupAddr:   unix.SockaddrInet4{Port: cfg.MulticastPort, Addr: group},
		listenerFD:  listenerFD,
		controlPort: controlPort,
		suspendAt:   cfg.SuspendThreshold,
		restartAt:   cfg.RestartThreshold,
		maxPayload:  DefaultMaxPayload,
	}
	if err := poll.Add(listenerFD, listenerTokenIndex, true, Interest{Readable: true}); err != nil {
		unix.Close(sendFD)
		unix.Close(listenerFD)
		return nil, fmt.Errorf("dstc: registering control listener: %w", err)
	}
	return p, nil
}

func setMulticastTTL(fd, ttl int) error {
	if ttl <= 0 {
		ttl = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, ttl)
}

func (p *NetPublisher) SetSuspendThresholds(suspend, restart int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspendAt, p.restartAt = suspend, restart
}

func (p *NetPublisher) SetAnnounceInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.announceEvery = d
}

func (p *NetPublisher) MaxDatagramPayload() int { return p.maxPayload }

func (p *NetPublisher) OnControlMessage(fn func(peer NodeID, name string)) {
	p.onControlMessage = fn
}

func (p *NetPublisher) OnSubscriberDisconnect(fn func(peer NodeID)) {
	p.onDisconnect = fn
}

// QueuePacket sends buf as one multicast datagram. Best-effort: no
// retransmission, no repair window (spec §1's transport carve-out).
func (p *NetPublisher) QueuePacket(buf []byte) error {
	p.mu.Lock()
	suspended := p.suspended
	p.mu.Unlock()
	if suspended {
		return ErrBusy
	}
	err := unix.Sendto(p.sendFD, buf, 0, &p.groupAddr)
	if err == unix.EAGAIN {
		return ErrBusy
	}
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.inFlight++
	if p.inFlight >= p.suspendAt {
		p.suspended = true
	}
	p.mu.Unlock()
	return nil
}

func (p *NetPublisher) TrafficSuspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspended
}

// drain simulates the transport acknowledging in-flight datagrams,
// the counterpart to QueuePacket's accounting, so the asymmetric
// suspend/restart watermarks (spec §4.6) actually flap as intended.
func (p *NetPublisher) drain(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight -= n
	if p.inFlight < 0 {
		p.inFlight = 0
	}
	if p.suspended && p.inFlight <= p.restartAt {
		p.suspended = false
	}
}

func (p *NetPublisher) ProcessTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainLocked()
	if p.announceEvery > 0 && time.Since(p.lastAnnounce) >= p.announceEvery {
		p.lastAnnounce = time.Now()
		// The beacon rides the same multicast socket as invocation
		// payloads but outside the Payload Buffer/QueuePacket path
		// (it's transport-level discovery traffic, not an
		// application invocation), discriminated on receive by its
		// magic prefix (decodeAnnounce).
		frame := encodeAnnounce(p.nodeID, p.controlPort)
		if err := unix.Sendto(p.sendFD, frame, 0, &p.groupAddr); err != nil && err != unix.EAGAIN {
			p.log.Warnf("sending announcement: %v", err)
		}
	}
}

// drainLocked acknowledges a small constant share of in-flight
// datagrams each timer tick, standing in for the reliable
// transport's real ack/repair bookkeeping.
func (p *NetPublisher) drainLocked() {
	if p.inFlight == 0 {
		return
	}
	ack := p.inFlight / 4
	if ack == 0 {
		ack = p.inFlight
	}
	p.inFlight -= ack
	if p.suspended && p.inFlight <= p.restartAt {
		p.suspended = false
	}
}

func (p *NetPublisher) NextTimeoutMillis() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.announceEvery <= 0 {
		if p.inFlight > 0 {
			return 50, true
		}
		return 0, false
	}
	remaining := p.announceEvery - time.Since(p.lastAnnounce)
	if remaining < 0 {
		remaining = 0
	}
	return remaining.Milliseconds(), true
}

func (p *NetPublisher) HandleReadable(index uint32) error {
	if index == listenerTokenIndex {
		return p.accept()
	}
	return p.readControl(index)
}

func (p *NetPublisher) HandleWritable(index uint32) error {
	// Control connections are read-driven only; the publisher never
	// needs write-interest on them in the best-effort design.
	return nil
}

// CloseIndex tears down the accepted control connection registered
// under index (spec §4.6.1: the Engine's response to a failed
// HandleWritable). index 0 is the shared listener socket, which is
// never write-registered, so it is never passed here in practice.
func (p *NetPublisher) CloseIndex(index uint32) error {
	p.dropConn(int(index) - 1)
	return nil
}

func (p *NetPublisher) accept() error {
	for {
		fd, _, err := unix.Accept(p.listenerFD)
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return err
		}
		unix.SetNonblock(fd, true)
		p.mu.Lock()
		idx := p.allocSlotLocked(fd)
		p.mu.Unlock()
		if err := p.poll.Add(fd, uint32(idx)+1, true, Interest{Readable: true}); err != nil {
			p.log.Errorf("publisher: registering accepted connection: %v", err)
			unix.Close(fd)
			return err
		}
	}
}

func (p *NetPublisher) allocSlotLocked(fd int) int {
	for i := range p.conns {
		if !p.conns[i].used {
			p.conns[i] = pubConn{fd: fd, used: true}
			return i
		}
	}
	p.conns = append(p.conns, pubConn{fd: fd, used: true})
	return len(p.conns) - 1
}

func (p *NetPublisher) readControl(index uint32) error {
	slot := int(index) - 1
	p.mu.Lock()
	if slot < 0 || slot >= len(p.conns) || !p.conns[slot].used {
		p.mu.Unlock()
		return nil
	}
	fd := p.conns[slot].fd
	p.mu.Unlock()

	buf := make([]byte, 512)
	n, err := unix.Read(fd, buf)
	if err == unix.EAGAIN {
		return nil
	}
	if err != nil || n == 0 {
		p.dropConn(slot)
		return nil
	}

	p.mu.Lock()
	p.conns[slot].rbuf = append(p.conns[slot].rbuf, buf[:n]...)
	frames, remainder := scanControlFrames(p.conns[slot].rbuf)
	p.conns[slot].rbuf = remainder
	if !p.conns[slot].have && len(frames) > 0 {
		p.conns[slot].peer = frames[0].node
		p.conns[slot].have = true
	}
	p.mu.Unlock()

	for _, f := range frames {
		if p.onControlMessage != nil {
			p.onControlMessage(f.node, f.name)
		}
	}
	return nil
}

func (p *NetPublisher) dropConn(slot int) {
	p.mu.Lock()
	if slot < 0 || slot >= len(p.conns) || !p.conns[slot].used {
		p.mu.Unlock()
		return
	}
	fd := p.conns[slot].fd
	peer := p.conns[slot].peer
	have := p.conns[slot].have
	p.conns[slot] = pubConn{}
	p.mu.Unlock()

	p.poll.Remove(fd)
	unix.Close(fd)
	if have && p.onDisconnect != nil {
		p.onDisconnect(peer)
	}
}

func (p *NetPublisher) Close() error {
	p.mu.Lock()
	conns := append([]pubConn(nil), p.conns...)
	p.mu.Unlock()
	for _, c := range conns {
		if c.used {
			p.poll.Remove(c.fd)
			unix.Close(c.fd)
		}
	}
	p.poll.Remove(p.listenerFD)
	unix.Close(p.listenerFD)
	return unix.Close(p.sendFD)
}

// --- subscriber ---

type subConn struct {
	fd      int
	used    bool
	peer    NodeID
	known   bool
	rbuf    []byte
	dialing bool
}

// NetSubscriber is the Subscriber side: a UDP receive socket joined
// to the multicast group, plus outbound control connections dialed
// to publishers discovered via announcements.
type NetSubscriber struct {
	nodeID NodeID
	log    Logger
	poll   PollAdapter

	recvFD int

	mu    sync.Mutex
	conns []subConn

	onSubscriptionComplete func(peer NodeID)
	onInvocationPacket     func(payload []byte)
}

// recvTokenIndex is the fixed token index for the subscriber's
// multicast receive socket; control connections are indexed starting
// at 1.
const recvTokenIndex uint32 = 0

// NewNetSubscriber builds and registers the subscriber side with
// poll.
func NewNetSubscriber(cfg Config, nodeID NodeID, poll PollAdapter, log Logger) (*NetSubscriber, error) {
	fd, err := newNonblockingSocket(unix.SOCK_DGRAM)
	if err != nil {
		return nil, fmt.Errorf("dstc: subscriber recv socket: %w", err)
	}
	if err := bindSocket(fd, "", cfg.MulticastPort); err != nil {
		unix.Close(fd)
		return nil, err
	}
	group, err := ipv4(cfg.MulticastGroup)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	iface, err := ipv4(cfg.MulticastIface)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	mreq := &unix.IPMreq{Multiaddr: group, Interface: iface}
	if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dstc: joining multicast group: %w", err)
	}

	s := &NetSubscriber{nodeID: nodeID, log: log, poll: poll, recvFD: fd}
	if err := poll.Add(fd, recvTokenIndex, false, Interest{Readable: true}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dstc: registering multicast socket: %w", err)
	}
	return s, nil
}

func (s *NetSubscriber) OnSubscriptionComplete(fn func(peer NodeID)) {
	s.onSubscriptionComplete = fn
}

func (s *NetSubscriber) OnInvocationPacket(fn func(payload []byte)) {
	s.onInvocationPacket = fn
}

// Dial establishes a control connection to a publisher discovered at
// host:port, identified by its advertised node id.
func (s *NetSubscriber) Dial(peer NodeID, host string, port int) error {
	fd, err := newNonblockingSocket(unix.SOCK_STREAM)
	if err != nil {
		return err
	}
	addr, err := ipv4(host)
	if err != nil {
		unix.Close(fd)
		return err
	}
	err = unix.Connect(fd, &unix.SockaddrInet4{Port: port, Addr: addr})
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return err
	}

	s.mu.Lock()
	idx := s.allocSlotLocked(fd, peer)
	s.mu.Unlock()

	interest := Interest{Readable: true, Writable: true}
	if err := s.poll.Add(fd, uint32(idx)+1, false, interest); err != nil {
		unix.Close(fd)
		return err
	}
	return nil
}

func (s *NetSubscriber) allocSlotLocked(fd int, peer NodeID) int {
	for i := range s.conns {
		if !s.conns[i].used {
			s.conns[i] = subConn{fd: fd, used: true, peer: peer, known: true, dialing: true}
			return i
		}
	}
	s.conns = append(s.conns, subConn{fd: fd, used: true, peer: peer, known: true, dialing: true})
	return len(s.conns) - 1
}

// SendControl writes one {localNode, name} frame on the connection
// established with peer.
func (s *NetSubscriber) SendControl(peer NodeID, localNode NodeID, name string) error {
	s.mu.Lock()
	fd := -1
	for i := range s.conns {
		if s.conns[i].used && s.conns[i].known && s.conns[i].peer == peer {
			fd = s.conns[i].fd
			break
		}
	}
	s.mu.Unlock()
	if fd < 0 {
		return fmt.Errorf("dstc: no control connection to peer %d", peer)
	}
	frame := encodeControlFrame(localNode, name)
	_, err := unix.Write(fd, frame)
	if err == unix.EAGAIN {
		return ErrBusy
	}
	return err
}

func (s *NetSubscriber) ProcessTimeout() {}

func (s *NetSubscriber) NextTimeoutMillis() (int64, bool) { return 0, false }

func (s *NetSubscriber) HandleReadable(index uint32) error {
	if index == recvTokenIndex {
		return s.readDatagrams()
	}
	return s.readControl(index)
}

func (s *NetSubscriber) readDatagrams() error {
	buf := make([]byte, DefaultMaxPayload)
	for {
		n, from, err := unix.Recvfrom(s.recvFD, buf, 0)
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if peer, controlPort, ok := decodeAnnounce(buf[:n]); ok {
			s.handleAnnounce(peer, controlPort, from)
			continue
		}
		if s.onInvocationPacket != nil {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			s.onInvocationPacket(payload)
		}
	}
}

// handleAnnounce reacts to a discovered publisher beacon by dialing
// its control port, unless that peer is already known (a connection
// is in flight or established). A node that both publishes and
// subscribes hears its own announcements and dials itself too, which
// is how a process sees its own server functions as available
// (cmd/loopback).
func (s *NetSubscriber) handleAnnounce(peer NodeID, controlPort int, from unix.Sockaddr) {
	in4, ok := from.(*unix.SockaddrInet4)
	if !ok {
		return
	}
	s.mu.Lock()
	for i := range s.conns {
		if s.conns[i].used && s.conns[i].peer == peer {
			s.mu.Unlock()
			return
		}
	}
	s.mu.Unlock()
	if err := s.Dial(peer, ipString(in4.Addr), controlPort); err != nil {
		s.log.Warnf("dialing peer %d at %s:%d: %v", peer, ipString(in4.Addr), controlPort, err)
	}
}

func (s *NetSubscriber) readControl(index uint32) error {
	slot := int(index) - 1
	s.mu.Lock()
	if slot < 0 || slot >= len(s.conns) || !s.conns[slot].used {
		s.mu.Unlock()
		return nil
	}
	fd := s.conns[slot].fd
	s.mu.Unlock()

	buf := make([]byte, 512)
	n, err := unix.Read(fd, buf)
	if err == unix.EAGAIN {
		return nil
	}
	if err != nil || n == 0 {
		s.dropConn(slot)
		return nil
	}
	// Nothing is ever sent to the subscriber on a control connection in
	// this best-effort design (advertisements flow subscriber->publisher
	// only); this read exists purely to detect the publisher closing
	// its end, handled by the err/n==0 branch above.
	return nil
}

func (s *NetSubscriber) HandleWritable(index uint32) error {
	slot := int(index) - 1
	s.mu.Lock()
	if slot < 0 || slot >= len(s.conns) || !s.conns[slot].used {
		s.mu.Unlock()
		return nil
	}
	fd := s.conns[slot].fd
	firstWrite := s.conns[slot].dialing
	peer := s.conns[slot].peer
	s.conns[slot].dialing = false
	s.mu.Unlock()

	if firstWrite {
		errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil || errno != 0 {
			s.dropConn(slot)
			return nil
		}
		// Connect completed: drop write-interest, subscription is
		// complete (spec §4.7).
		s.poll.Modify(fd, uint32(slot)+1, false, Interest{Readable: true})
		if s.onSubscriptionComplete != nil {
			s.onSubscriptionComplete(peer)
		}
	}
	return nil
}

// CloseIndex tears down the control connection registered under
// index (spec §4.6.1: the Engine's response to a failed
// HandleWritable). index 0 is the multicast receive socket, which is
// never write-registered, so it is never passed here in practice.
func (s *NetSubscriber) CloseIndex(index uint32) error {
	s.dropConn(int(index) - 1)
	return nil
}

func (s *NetSubscriber) dropConn(slot int) {
	s.mu.Lock()
	if slot < 0 || slot >= len(s.conns) || !s.conns[slot].used {
		s.mu.Unlock()
		return
	}
	fd := s.conns[slot].fd
	s.conns[slot] = subConn{}
	s.mu.Unlock()
	s.poll.Remove(fd)
	unix.Close(fd)
}

func (s *NetSubscriber) Close() error {
	s.mu.Lock()
	conns := append([]subConn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		if c.used {
			s.poll.Remove(c.fd)
			unix.Close(c.fd)
		}
	}
	s.poll.Remove(s.recvFD)
	return unix.Close(s.recvFD)
}
