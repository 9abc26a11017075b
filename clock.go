package session

import "time"

// TokenStatus is the derived freshness view of a token at a given instant.
type TokenStatus struct {
	IsValid          bool  `json:"is_valid"`
	IsExpired        bool  `json:"is_expired"`
	IsExpiringSoon   bool  `json:"is_expiring_soon"`
	HasExpiry        bool  `json:"has_expiry"`
	ExpiresInSeconds int64 `json:"expires_in_seconds"`
}

// ExpiresInSeconds returns floor((expiry-now)/1s) in millisecond precision.
// The boolean is false when no expiry is known (zero time).
func ExpiresInSeconds(expiry, now time.Time) (int64, bool) {
	if expiry.IsZero() {
		return 0, false
	}
	return floorDiv(expiry.UnixMilli()-now.UnixMilli(), 1000), true
}

// IsExpired is true iff the expiry is known and now has reached it.
func IsExpired(expiry, now time.Time) bool {
	if expiry.IsZero() {
		return false
	}
	return now.UnixMilli() >= expiry.UnixMilli()
}

// IsExpiringSoon is true iff the token is not expired yet and expires within
// threshold (inclusive, compared in whole seconds).
func IsExpiringSoon(expiry, now time.Time, threshold time.Duration) bool {
	if expiry.IsZero() || IsExpired(expiry, now) {
		return false
	}
	secs, _ := ExpiresInSeconds(expiry, now)
	return secs <= int64(threshold/time.Second)
}

// IsValid is true iff token is present, expiry known and now < expiry.
func IsValid(token string, expiry, now time.Time) bool {
	if token == "" || expiry.IsZero() {
		return false
	}
	return now.UnixMilli() < expiry.UnixMilli()
}

// DeriveTokenStatus bundles the clock functions into a TokenStatus.
func DeriveTokenStatus(token string, expiry, now time.Time, threshold time.Duration) TokenStatus {
	secs, known := ExpiresInSeconds(expiry, now)
	return TokenStatus{
		IsValid:          IsValid(token, expiry, now),
		IsExpired:        IsExpired(expiry, now),
		IsExpiringSoon:   IsExpiringSoon(expiry, now, threshold),
		HasExpiry:        known,
		ExpiresInSeconds: secs,
	}
}

// FromEpochSeconds converts a JWT NumericDate (exp, iat) into a time.Time.
// Zero maps to the zero time.
func FromEpochSeconds(secs int64) time.Time {
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// FromEpochMillis converts epoch milliseconds into a time.Time.
func FromEpochMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
