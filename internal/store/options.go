package store

import "time"

// PairingOptions tune the pairing store backends.
type PairingOptions struct {
	CodeTTL      time.Duration // pairing code lifetime
	MaxPerMinute int           // rate limit per sender
	Now          func() time.Time
}

// WithDefaults fills unset fields with the documented defaults
// (300s TTL, 60 messages/minute).
func (o PairingOptions) WithDefaults() PairingOptions {
	if o.CodeTTL <= 0 {
		o.CodeTTL = 300 * time.Second
	}
	if o.MaxPerMinute <= 0 {
		o.MaxPerMinute = 60
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
