package domain

import "errors"

var (
	// ErrDataUnavailable reports that a market-data fetch or parse failed.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrConfigMissing reports that a required configuration value is absent.
	ErrConfigMissing = errors.New("configuration value missing")

	// ErrStrategyNotFound reports a strategy name with no registered
	// constructor.
	ErrStrategyNotFound = errors.New("strategy not found")
)
