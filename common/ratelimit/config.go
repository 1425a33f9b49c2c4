package ratelimit

import (
	"fmt"
	"time"
)

// Policy defines how many requests a single client may make per window
type Policy struct {
	Limit  int64
	Window time.Duration
}

// DefaultPolicy applies when no explicit limits are configured
var DefaultPolicy = Policy{
	Limit:  120,
	Window: time.Minute,
}

// windowSeconds returns the window rounded up to whole seconds, minimum 1
func (p Policy) windowSeconds() int64 {
	secs := int64((p.Window + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Description returns a human-readable description of the policy
func (p Policy) Description() string {
	return fmt.Sprintf("%d requests per %s", p.Limit, p.Window)
}

// clientKey namespaces a client identifier (usually the remote IP)
func clientKey(client string) string {
	return fmt.Sprintf("rate_limit:client:%s", client)
}
