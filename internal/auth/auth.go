// Package auth resolves request credentials into an account identity
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/ferrywell/cutout/internal/model"
	"github.com/ferrywell/cutout/internal/mwlogger"
	"github.com/google/uuid"
)

// KeyStore - contract for the api-key half of the resolver. Only the
// sha256 hex digest of a key ever reaches the store.
type KeyStore interface {
	ResolveKeyHash(ctx context.Context, keyHash string) (*model.Account, error)
}

// TokenValidator - contract for the bearer-token fallback, backed by the
// external identity provider.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (uuid.UUID, error)
}

type Resolver struct {
	keys   KeyStore
	tokens TokenValidator
}

func NewResolver(keys KeyStore, tokens TokenValidator) *Resolver {
	return &Resolver{keys: keys, tokens: tokens}
}

// Resolve tries exactly one path per request: the opaque key wins when
// both credentials are present, missing both is the same 401 as an
// invalid credential.
func (r *Resolver) Resolve(ctx context.Context, cred model.Credential) (*model.Account, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	switch {
	case cred.APIKey != "":
		acc, err := r.keys.ResolveKeyHash(ctx, HashKey(cred.APIKey))
		if err != nil {
			if errors.Is(err, model.ErrUnauthenticated) {
				return nil, model.ErrUnauthenticated
			}
			logger.Error().Err(err).Msg("Key store lookup failed")
			return nil, model.ErrCommon500
		}
		return acc, nil
	case cred.BearerToken != "":
		userID, err := r.tokens.Validate(ctx, cred.BearerToken)
		if err != nil {
			return nil, model.ErrUnauthenticated
		}
		return &model.Account{UserID: userID}, nil
	default:
		return nil, model.ErrUnauthenticated
	}
}

// HashKey - one-way digest of an opaque api-key. The plain key is never
// stored or logged.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
