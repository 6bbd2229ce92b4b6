package seeder

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vnmchuo/assistant-queue/internal/auth"
	"github.com/vnmchuo/assistant-queue/internal/billing"
	"github.com/vnmchuo/assistant-queue/internal/profile"
)

const (
	DevUserID    = "00000000-0000-0000-0000-000000000001"
	DevUserEmail = "dev@assistant.local"
)

// SeedDevUser makes sure the development user exists with an active FREE
// subscription and returns a non-expiring token for it. Safe to run on every
// start.
func SeedDevUser(ctx context.Context, users profile.Store, subs billing.Store, secret string, logger *zap.Logger) (string, error) {
	logger = logger.Named("seeder")

	_, err := users.GetUser(ctx, DevUserID)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		u := &profile.User{ID: DevUserID, Email: DevUserEmail}
		if err := users.CreateUser(ctx, u); err != nil {
			return "", fmt.Errorf("failed to create dev user: %w", err)
		}
		logger.Info("dev user created", zap.String("user_id", u.ID))
	case err != nil:
		return "", fmt.Errorf("failed to look up dev user: %w", err)
	default:
		logger.Info("dev user exists, skipping creation", zap.String("user_id", DevUserID))
	}

	_, err = subs.Active(ctx, DevUserID)
	if errors.Is(err, billing.ErrNoActiveSubscription) {
		err = subs.CreateSubscription(ctx, &billing.Subscription{
			UserID: DevUserID,
			Tariff: billing.TariffFree,
			Active: true,
		})
		if err != nil {
			return "", fmt.Errorf("failed to create dev subscription: %w", err)
		}
		logger.Info("dev subscription created", zap.String("tariff", billing.TariffFree))
	} else if err != nil {
		return "", fmt.Errorf("failed to look up dev subscription: %w", err)
	}

	token, err := auth.IssueToken(secret, DevUserID, DevUserEmail, 0)
	if err != nil {
		return "", fmt.Errorf("failed to issue dev token: %w", err)
	}
	logger.Info("dev token issued", zap.String("user_id", DevUserID), zap.String("token", token))
	return token, nil
}
