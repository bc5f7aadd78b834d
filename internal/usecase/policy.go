// Package usecase implements the biometric authentication security engine:
// device fingerprint tracking, sliding-window rate limiting, the bounded
// security event log, composite threat assessment, biometric token lifecycle,
// attempt lockout, and the coordinator façade that orchestrates them.
package usecase

// FailurePolicy names what a component does when its own machinery fails.
// The engine deliberately runs asymmetric policies: the rate limiter fails
// open on storage errors (a storage glitch must not permanently lock a user
// out), while the threat assessor fails closed (a scoring failure is treated
// as more suspicious than storage unavailability). Making the policy an
// explicit, named value keeps that asymmetry visible and testable.
type FailurePolicy int

const (
	// FailOpen allows the operation and logs the underlying error.
	FailOpen FailurePolicy = iota
	// FailClosed denies maximally and logs the underlying error.
	FailClosed
)

// String returns the policy name.
func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}
