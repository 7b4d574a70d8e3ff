package scheduler

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks that UploadTaskGraph's per-process goroutines, and the
// Host/Qnos/Netstack driver goroutines they each spawn through
// driver.RunProcess, always finish before the test process exits.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
