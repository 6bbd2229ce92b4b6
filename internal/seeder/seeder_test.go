package seeder

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/vnmchuo/assistant-queue/internal/auth"
	"github.com/vnmchuo/assistant-queue/internal/billing"
	"github.com/vnmchuo/assistant-queue/internal/profile"
)

func TestSeedDevUser_Idempotent(t *testing.T) {
	users := profile.NewMemoryStore()
	subs := billing.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		token, err := SeedDevUser(ctx, users, subs, "secret", zap.NewNop())
		if err != nil {
			t.Fatalf("run %d: SeedDevUser failed: %v", i, err)
		}
		claims, err := auth.ParseToken("secret", token)
		if err != nil {
			t.Fatalf("run %d: token does not verify: %v", i, err)
		}
		if claims.Subject != DevUserID || claims.ExpiresAt != nil {
			t.Errorf("run %d: unexpected claims %+v", i, claims)
		}
	}

	u, err := users.GetUser(ctx, DevUserID)
	if err != nil || u.Email != DevUserEmail {
		t.Fatalf("Expected dev user, got %+v, %v", u, err)
	}

	sub, err := subs.Active(ctx, DevUserID)
	if err != nil {
		t.Fatalf("Expected active subscription: %v", err)
	}
	if sub.Tariff != billing.TariffFree || sub.ReqMax != 0 {
		t.Errorf("Expected unlimited FREE subscription, got %+v", sub)
	}
	if ok, _ := billing.CheckLimits(ctx, subs, DevUserID); !ok {
		t.Error("Expected dev user to pass limit check")
	}
}
