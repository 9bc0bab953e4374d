package service

import "time"

const (
	healthCheckInterval = 30 * time.Second
	liveTickInterval    = time.Second
	minuteTickInterval  = time.Minute

	recheckFloor    = time.Minute
	recheckFallback = time.Hour
	claimRetryDelay = 5 * time.Minute

	// Players need a moment after navigation before page scripts land.
	settleDelay = 3 * time.Second
)
