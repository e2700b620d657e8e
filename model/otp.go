package model

import "time"

// OTPRecord is the single pending code for an email. The document id is the
// email, so Email is not stored as a field.
type OTPRecord struct {
	Email    string    `firestore:"-" json:"email"`
	Code     string    `firestore:"otp" json:"otp"`
	IssuedAt time.Time `firestore:"timestamp,serverTimestamp" json:"timestamp"`
}

// Expired reports whether the record is older than ttl at now. A record
// exactly ttl old is still valid.
func (r *OTPRecord) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.IssuedAt) > ttl
}
