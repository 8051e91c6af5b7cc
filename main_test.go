package dstc

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain guards every test in the package against goroutine leaks,
// the way go-mcast's test suite does.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
