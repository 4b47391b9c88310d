// Package captcha contains the shared constants for the captcha service.
package captcha

import "time"

var (
	// Version is the current version of the service, filled in at build time.
	Version = "devel"
)

const (
	// PassCookieName is the name of the cookie holding the signed pass token
	// minted after a successful verification.
	PassCookieName = "habuha.captcha-pass"

	// DefaultExpiry is how long an issued challenge stays valid.
	DefaultExpiry = 30 * time.Second

	// StoreGracePeriod is how long a challenge record outlives its logical
	// expiry in the backing store. A Verify call that arrives just after the
	// deadline must still find the record so it can be reported as expired
	// rather than unknown.
	StoreGracePeriod = 1 * time.Minute

	// DefaultAdmissionLimit is how many challenges one client identity may
	// obtain per admission window.
	DefaultAdmissionLimit = 8

	// DefaultAdmissionWindow is the length of the admission window.
	DefaultAdmissionWindow = 10 * time.Second

	// PassTokenValidity is how long a pass token issued on success is good for.
	PassTokenValidity = 1 * time.Hour
)
