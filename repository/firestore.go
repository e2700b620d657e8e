package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"herbitect/model"
)

type FirestoreOTPStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreOTPStore(client *firestore.Client, collection string) *FirestoreOTPStore {
	return &FirestoreOTPStore{client: client, collection: collection}
}

func (s *FirestoreOTPStore) doc(email string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(email)
}

// Put overwrites the document for email. The timestamp is assigned by
// Firestore, not by this process.
func (s *FirestoreOTPStore) Put(ctx context.Context, email, code string) error {
	_, err := s.doc(email).Set(ctx, map[string]interface{}{
		"otp":       code,
		"timestamp": firestore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("firestore set %s/%s: %w", s.collection, email, err)
	}
	return nil
}

func (s *FirestoreOTPStore) Get(ctx context.Context, email string) (*model.OTPRecord, error) {
	snap, err := s.doc(email).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firestore get %s/%s: %w", s.collection, email, err)
	}
	if !snap.Exists() {
		return nil, ErrNotFound
	}

	var rec model.OTPRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode otp record: %w", err)
	}
	rec.Email = email
	return &rec, nil
}

func (s *FirestoreOTPStore) Delete(ctx context.Context, email string) error {
	if _, err := s.doc(email).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete %s/%s: %w", s.collection, email, err)
	}
	return nil
}
