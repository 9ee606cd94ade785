// Package totp derives time-based one-time codes from a raw shared secret.
//
// The configuration is fixed: HMAC-SHA1, a 30-second time step, 6 decimal
// digits, and no tolerance window. Only the code for the step containing the
// requested instant is generated.
//
// The secret is used directly as the HMAC key; it is not base32-decoded.
package totp

import (
	"errors"
	"time"

	"github.com/creachadair/otp"
)

const (
	// Digits is the number of decimal digits in a generated code.
	Digits = 6

	// Period is the duration of one time step.
	Period = 30 * time.Second
)

// ErrEmptySecret is reported by Derive when the secret is empty.
var ErrEmptySecret = errors.New("empty secret")

// Counter returns the time step containing t, the number of whole periods
// elapsed since the Unix epoch. Instants before the epoch map to step 0.
func Counter(t time.Time) uint64 {
	sec := t.Unix()
	if sec < 0 {
		return 0
	}
	return uint64(sec) / uint64(Period/time.Second)
}

// WindowEnd returns the first instant after the time step containing t.
func WindowEnd(t time.Time) time.Time {
	next := int64(Counter(t)+1) * int64(Period/time.Second)
	return time.Unix(next, 0)
}

// Derive returns the code for secret at time t. The result is always exactly
// Digits decimal digits, with leading zeros preserved.
func Derive(secret []byte, t time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	cfg := otp.Config{
		Key:    string(secret),
		Digits: Digits, // the hash defaults to SHA-1
	}
	return cfg.HOTP(Counter(t)), nil
}
