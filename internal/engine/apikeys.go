package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"regline/internal/domain"
	"regline/internal/repo"
)

// CreateAPIKey mints a key for an actor. The raw secret is returned once;
// only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", ValidationError{Field: "actor_id", Reason: "must not be empty"}
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate api key: %w", err)
	}
	raw := "rgl_" + hex.EncodeToString(buf)
	k := domain.APIKey{
		ID:        e.newID(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.now(),
	}
	if err := e.Repo.InsertAPIKey(ctx, k); err != nil {
		return domain.APIKey{}, "", err
	}
	return k, raw, nil
}
