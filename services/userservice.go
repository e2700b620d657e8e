package services

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/auth"

	"herbitect/model"
)

// ErrUserNotFound is returned when the identity provider has no account for
// the email.
var ErrUserNotFound = errors.New("user not found")

// IdentityProvider resolves accounts and changes their passwords.
type IdentityProvider interface {
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePassword(ctx context.Context, uid, newPassword string) error
}

// FirebaseIdentity is the IdentityProvider backed by Firebase Authentication.
type FirebaseIdentity struct {
	client *auth.Client
}

func NewFirebaseIdentity(client *auth.Client) *FirebaseIdentity {
	return &FirebaseIdentity{client: client}
}

func (f *FirebaseIdentity) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := f.client.GetUserByEmail(ctx, email)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("firebase get user by email: %w", err)
	}
	return &model.User{UID: u.UID, Email: u.Email}, nil
}

func (f *FirebaseIdentity) UpdatePassword(ctx context.Context, uid, newPassword string) error {
	params := (&auth.UserToUpdate{}).Password(newPassword)
	if _, err := f.client.UpdateUser(ctx, uid, params); err != nil {
		return fmt.Errorf("firebase update user %s: %w", uid, err)
	}
	return nil
}
