package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOTPRecordExpired(t *testing.T) {
	issued := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	rec := &OTPRecord{Email: "a@x.com", Code: "123456", IssuedAt: issued}
	ttl := 10 * time.Minute

	assert.False(t, rec.Expired(issued, ttl))
	assert.False(t, rec.Expired(issued.Add(ttl), ttl), "boundary is inclusive")
	assert.True(t, rec.Expired(issued.Add(ttl+time.Nanosecond), ttl))
}
