// Package circuitbreaker isolates failing backend services.
//
// Each service name gets its own breaker with two states:
//
//   - CLOSED: dispatch allowed; consecutive transport failures are counted
//   - OPEN: dispatch rejected until the cooldown elapses
//
// When the cooldown elapses, Recover (called implicitly by IsOpen) closes the
// breaker and resets the counter. The next request is a recovery probe: its
// success keeps the breaker closed, its failure reopens it immediately.
//
// Usage:
//
//	breakers := circuitbreaker.NewRegistry(3, 30*time.Second)
//	if breakers.IsOpen("user-service") {
//	    // reject with 503, do not call the backend
//	}
//	if err := call(); err != nil {
//	    breakers.RecordFailure("user-service")
//	} else {
//	    breakers.RecordSuccess("user-service")
//	}
package circuitbreaker
