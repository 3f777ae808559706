package diagnostics

import "testing"

// Enable tolerates a failed agent.Listen (e.g. a second call binding the
// same gops socket); this only exercises that it never panics doing so.
func TestEnableDoesNotPanicOnRepeatedCalls(t *testing.T) {
	Enable()
	Enable()
}
