package redis

import "errors"

// Sentinel errors returned by the connection bootstrap. Check with errors.Is
// to tell configuration mistakes apart from transient unavailability that is
// worth retrying at a higher level.
var (
	ErrEmptyConnectionURL           = errors.New("empty redis connection URL")
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
	ErrHealthcheckFailed            = errors.New("redis healthcheck failed")
)
