package routerdisc

import "testing"

// This is a best-effort smoke test: on a CI runner with no default route,
// FindRouters is expected to fail with CantFindDefaultGateway rather than
// panic, which is the only property we can assert without a real LAN.
func TestFindRoutersDoesNotPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("FindRouters panicked: %v", r)
		}
	}()
	_, _ = FindRouters()
}
