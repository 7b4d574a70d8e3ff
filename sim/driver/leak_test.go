package driver

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks that the Bus/ProcessorDriver goroutines this package
// spawns in RunProcess never outlive the test that started them, the way
// a three-way errgroup fan-out easily can if a driver blocks on Await
// past its context's cancellation.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
