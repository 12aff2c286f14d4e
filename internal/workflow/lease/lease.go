// Package lease gives one workflow invocation exclusive use of a device.
//
// A lease is identified by a random token so only its holder can release it.
// Leases expire after a TTL so a crashed process cannot lock a device forever.
package lease

import (
	"time"
)

// DefaultTTL bounds how long a lease survives without release.
const DefaultTTL = 30 * time.Minute
