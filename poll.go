package dstc

// pollSideBit marks a registered token as belonging to the publisher
// side (1) vs. the subscriber side (0) (spec §4.5: "a single flag bit
// marking publisher (1) vs. subscriber (0)").
const pollSideBit uint32 = 1 << 31

// makeToken composes the 32-bit readiness-facility token: socket
// index in the low bits, side flag in the high bit.
func makeToken(index uint32, isPublisher bool) uint32 {
	t := index &^ pollSideBit
	if isPublisher {
		t |= pollSideBit
	}
	return t
}

// decodeToken splits a token back into (index, side).
func decodeToken(token uint32) (index uint32, isPublisher bool) {
	return token &^ pollSideBit, token&pollSideBit != 0
}

// Interest is the read/write-interest set a transport side registers
// for one of its sockets.
type Interest struct {
	Readable bool
	Writable bool
}

func (i Interest) equal(o Interest) bool {
	return i.Readable == o.Readable && i.Writable == o.Writable
}

// ReadyEvent is one descriptor reported ready by the readiness
// facility, already decoded back to (index, side) plus what
// happened.
type ReadyEvent struct {
	Index       uint32
	IsPublisher bool
	Readable    bool
	Writable    bool
}

// PollAdapter translates a transport's read/write-interest callbacks
// into add/modify/remove operations on the readiness facility (spec
// §4.5). The adapter only reports errors; the Engine does not inspect
// them. An Add failure while a transport side is being constructed
// makes Setup fail (Setup logs it through Logger.Fatalf); an Add
// failure for a control connection accepted or dialed later is logged
// and that descriptor is closed, without stopping the process. Remove
// errors are ignored by the transports.
type PollAdapter interface {
	// Add registers fd under the given composite token and interest
	// set.
	Add(fd int, index uint32, isPublisher bool, interest Interest) error

	// Modify updates fd's interest set. A no-op when new equals the
	// previously registered interest is the adapter's responsibility
	// to detect cheaply; callers are not required to pre-check.
	Modify(fd int, index uint32, isPublisher bool, interest Interest) error

	// Remove deregisters fd.
	Remove(fd int) error

	// Wait blocks for up to timeoutMs (a negative value blocks
	// forever, zero polls once) and returns the events observed.
	Wait(timeoutMs int) ([]ReadyEvent, error)

	// Close releases the underlying readiness-facility handle.
	Close() error
}
