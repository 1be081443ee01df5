package oracle

import "errors"

var (
	// ErrStalePrice marks observations older than the caller's freshness bound.
	ErrStalePrice = errors.New("oracle: stale price")
	// ErrInvalidPrice marks non-positive or otherwise malformed price data.
	ErrInvalidPrice = errors.New("oracle: invalid price")
	// ErrNoPriceFeed is returned when nothing is registered for a pair or when
	// every source and the custom-price fallback have been exhausted.
	ErrNoPriceFeed = errors.New("oracle: no price feed")
	// ErrInvalidOracle marks malformed registration or configuration input.
	ErrInvalidOracle = errors.New("oracle: invalid oracle")
	// ErrMaxOraclesReached is returned when a pair's registry is at capacity.
	ErrMaxOraclesReached = errors.New("oracle: max oracles reached")
	// ErrUnauthorized marks callers lacking the required role.
	ErrUnauthorized = errors.New("oracle: unauthorized")
)
