package mcpclient

import "time"

// Auth carries handshake credentials. Bearer takes the conventional
// Authorization header; Headers are applied verbatim. Values are never logged
// in plaintext.
type Auth struct {
	Bearer  string
	Headers map[string]string
}

// Timeouts bounds the client's network operations. Connect bounds each
// individual connection attempt; Call bounds the wait for one correlated
// response.
type Timeouts struct {
	Connect time.Duration
	Call    time.Duration
}

// DefaultTimeouts returns the default operation bounds
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 10 * time.Second,
		Call:    30 * time.Second,
	}
}
