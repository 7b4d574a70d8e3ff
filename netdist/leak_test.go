package netdist

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks that Server's per-connection outcome-forwarding
// goroutines never outlive the test, the way a Submit whose outcome
// channel is never drained otherwise would leave one parked forever.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
