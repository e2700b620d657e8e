// Package repository holds the OTP Store backends. Each stores one record per
// email and stamps it with the store's own clock on write.
package repository

import "errors"

// ErrNotFound is returned by Get when no record exists for the email.
var ErrNotFound = errors.New("otp record not found")
