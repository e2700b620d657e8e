package connection

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go"

	"herbitect/config"
	"herbitect/repository"
	"herbitect/services"
)

// NewOTPStore builds the configured store. The returned close func releases
// its client and is never nil.
func NewOTPStore(ctx context.Context, cfg *config.Config, app *firebase.App) (services.OTPStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.OTP.Store {
	case config.StoreFirestore:
		client, err := FirestoreConnection(ctx, app)
		if err != nil {
			return nil, noop, err
		}
		return repository.NewFirestoreOTPStore(client, cfg.OTP.Collection), client.Close, nil

	case config.StoreRedis:
		client, err := RedisConnection(ctx, cfg.Redis)
		if err != nil {
			return nil, noop, err
		}
		return repository.NewRedisOTPStore(client, cfg.Redis.KeyPrefix), client.Close, nil

	case config.StoreMemory:
		slog.WarnContext(ctx, "using in-memory otp store; codes are lost on restart")
		return repository.NewMemoryOTPStore(nil), noop, nil
	}

	return nil, noop, fmt.Errorf("unknown otp store %q", cfg.OTP.Store)
}
