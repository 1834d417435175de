// Package totp derives six-digit verification codes from raw shared secrets
// using the HOTP dynamic truncation of RFC 4226 over 30-second time steps
// (RFC 6238).
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
)

const (
	// StepSeconds is the width of one time step.
	StepSeconds = 30

	codeModulus = 1_000_000
	digits      = 6
)

// Generate returns the verification code for secret at the given time step,
// in [0, 999999]. All multi-byte values are encoded explicitly big-endian, so
// the result does not depend on host byte order.
func Generate(secret []byte, step uint64) uint32 {
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], step)

	mac := hmac.New(sha1.New, secret)
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF

	return truncated % codeModulus
}

// Format renders code as a zero-padded six-character decimal string.
func Format(code uint32) string {
	var out [digits]byte
	for i := digits - 1; i >= 0; i-- {
		out[i] = '0' + byte(code%10)
		code /= 10
	}
	return string(out[:])
}

// Step converts a clock reading in seconds to a time step after removing the
// device's UTC offset. Readings before the epoch map to step 0.
func Step(unixSeconds int64, utcOffset int32) uint64 {
	t := unixSeconds - int64(utcOffset)
	if t < 0 {
		return 0
	}
	return uint64(t / StepSeconds)
}

// Remaining returns how many seconds are left in the window containing
// unixSeconds, in [1, StepSeconds].
func Remaining(unixSeconds int64) int {
	r := unixSeconds % StepSeconds
	if r < 0 {
		r += StepSeconds
	}
	return StepSeconds - int(r)
}
