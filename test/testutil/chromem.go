package testutil

import (
	"testing"

	chromem "github.com/philippgille/chromem-go"
)

// CreateTempChromemGoClient creates a new in-memory chromem-go instance
// for isolated testing. The returned cleanup deletes every collection.
func CreateTempChromemGoClient(t *testing.T) (*chromem.DB, func()) {
	client := chromem.NewDB()
	cleanup := func() {
		if err := client.Reset(); err != nil {
			t.Logf("failed to reset chromem-go client: %v", err)
		}
	}
	return client, cleanup
}
