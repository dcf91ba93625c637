// Package version holds build metadata injected with -ldflags -X.
package version

import "time"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuiltAt parses BuildTime, returning the zero time when it is unset or not
// RFC 3339.
func BuiltAt() time.Time {
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return time.Time{}
	}
	return t
}
