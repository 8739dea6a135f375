package testutil

import (
	"os"
	"testing"
)

// RequireVM skips the test if the WGTUNNEL_VM_TEST environment variable is not set.
// Tests that create real tunnel devices, routes or nftables rules only run
// inside the disposable test VM.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("WGTUNNEL_VM_TEST") == "" {
		t.Skip("Skipping test: requires WGTUNNEL_VM_TEST environment")
	}
}

// RequireRoot skips the test unless it runs as uid 0.
func RequireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
}
