package models

import "time"

const (
	// DefaultCheckinGrace how early a renter may check in before start
	DefaultCheckinGrace = 15 * time.Minute

	// DefaultMaxDurationHours upper bound on one booking
	DefaultMaxDurationHours = 24

	// DefaultMaxAdvanceDays booking horizon
	DefaultMaxAdvanceDays = 60

	// DefaultAdmissionRetries store conflict retries before giving up
	DefaultAdmissionRetries = 3

	// DefaultLockTimeout how long to wait for a room lock
	DefaultLockTimeout = 5 * time.Second

	// DefaultSweepInterval expiry sweep period
	DefaultSweepInterval = time.Minute

	// CatalogCacheTTL lifetime of cached kost and room rows
	CatalogCacheTTL = 5 * time.Minute

	// AllowedClockSkew how far in the past start_time may be
	AllowedClockSkew = 5 * time.Minute
)
