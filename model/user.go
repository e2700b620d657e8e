package model

// User is the subset of an identity-provider account the OTP flow needs.
type User struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}
