package tools

import "github.com/vnmchuo/assistant-queue/internal/profile"

// Register wires the built-in tools into r.
func Register(r *Registry, svc *profile.Service) {
	r.Register(NewAddPurchase(svc))
	r.Register(NewAddToBlacklist(svc.Store()))
	r.Register(NewUpdateSavings(svc.Store()))
}
