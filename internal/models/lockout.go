package models

import "time"

// LockoutStatus is the outcome of a lockout check or a recorded failure.
type LockoutStatus struct {
	Locked            bool
	AttemptsRemaining int
	LockoutEndsAt     *time.Time
}
