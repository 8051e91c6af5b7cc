//go:build linux

package dstc

import (
	"golang.org/x/sys/unix"
)

// epollAdapter is the Linux readiness facility backing PollAdapter:
// epoll_create1/epoll_ctl/epoll_wait via golang.org/x/sys/unix, the
// same package the rest of the corpus (aistore, kryptco-kr) reaches
// for whenever it touches raw sockets.
type epollAdapter struct {
	epfd       int
	interests  map[int]Interest
	tokenByFD  map[int]uint32
}

// NewPollAdapter constructs the epoll-backed readiness facility.
// Failure here is fatal per spec §4.5/§7 ("fatal — unrecoverable
// system-call failure"); the caller's Logger.Fatal terminates the
// process.
func NewPollAdapter() (PollAdapter, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollAdapter{
		epfd:      epfd,
		interests: make(map[int]Interest),
		tokenByFD: make(map[int]uint32),
	}, nil
}

// newPollAdapterFromFD wraps an already-open epoll file descriptor,
// backing Engine.SetupWithEpoll (spec §6 public entry point
// "setup_with_epoll(handle)": the caller owns an epoll instance
// shared with other event sources and hands it to the engine instead
// of letting it create its own).
func newPollAdapterFromFD(epfd int) PollAdapter {
	return &epollAdapter{
		epfd:      epfd,
		interests: make(map[int]Interest),
		tokenByFD: make(map[int]uint32),
	}
}

func eventMask(interest Interest) uint32 {
	var mask uint32
	if interest.Readable {
		mask |= unix.EPOLLIN
	}
	if interest.Writable {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (a *epollAdapter) Add(fd int, index uint32, isPublisher bool, interest Interest) error {
	ev := unix.EpollEvent{
		Events: eventMask(interest),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(a.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	a.interests[fd] = interest
	a.tokenByFD[fd] = makeToken(index, isPublisher)
	return nil
}

func (a *epollAdapter) Modify(fd int, index uint32, isPublisher bool, interest Interest) error {
	if existing, ok := a.interests[fd]; ok && existing.equal(interest) {
		return nil // spec §4.5: identical interest sets are a no-op.
	}
	ev := unix.EpollEvent{
		Events: eventMask(interest),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(a.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return err
	}
	a.interests[fd] = interest
	a.tokenByFD[fd] = makeToken(index, isPublisher)
	return nil
}

func (a *epollAdapter) Remove(fd int) error {
	err := unix.EpollCtl(a.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(a.interests, fd)
	delete(a.tokenByFD, fd)
	return err
}

func (a *epollAdapter) Wait(timeoutMs int) ([]ReadyEvent, error) {
	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(a.epfd, events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]ReadyEvent, 0, n)
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		token, ok := a.tokenByFD[fd]
		if !ok {
			continue
		}
		index, isPublisher := decodeToken(token)
		out = append(out, ReadyEvent{
			Index:       index,
			IsPublisher: isPublisher,
			Readable:    events[i].Events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0,
			Writable:    events[i].Events&unix.EPOLLOUT != 0,
		})
	}
	return out, nil
}

func (a *epollAdapter) Close() error {
	return unix.Close(a.epfd)
}
