package accountpg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ferrywell/cutout/internal/model"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"
)

type PostgresRepo struct {
	DB *dbpg.DB
}

func (p PostgresRepo) ResolveKeyHash(ctx context.Context, keyHash string) (*model.Account, error) {
	query := `SELECT id, user_id
	FROM api_keys
	WHERE key_hash = $1`

	var keyID, userID uuid.UUID
	err := p.DB.QueryRowContext(ctx, query, keyHash).Scan(&keyID, &userID)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, model.ErrUnauthenticated // 401
		default:
			return nil, err // 500
		}
	}

	return &model.Account{UserID: userID, KeyID: &keyID}, nil
}

// ConsumeCredit debits one unit. The WHERE-guarded UPDATE is executed as
// one statement, so the store serializes concurrent decrements per
// account; no row updated means the balance was insufficient.
func (p PostgresRepo) ConsumeCredit(ctx context.Context, userID uuid.UUID) (bool, error) {
	query := `UPDATE credits
	SET balance = balance - 1, updated_at = now()
	WHERE user_id = $1 AND balance >= 1
	RETURNING balance`

	var left int64
	err := p.DB.QueryRowContext(ctx, query, userID).Scan(&left)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return false, nil // insufficient, not a store failure
		default:
			return false, err // 500
		}
	}

	return true, nil
}

func (p PostgresRepo) RefundCredit(ctx context.Context, userID uuid.UUID) error {
	query := `UPDATE credits
	SET balance = balance + 1, updated_at = now()
	WHERE user_id = $1`

	row := p.DB.QueryRowContext(ctx, query, userID)
	return row.Err()
}

func (p PostgresRepo) AddKeyUsage(ctx context.Context, keyID uuid.UUID, n int64) error {
	query := `UPDATE api_keys
	SET usage_count = usage_count + $2
	WHERE id = $1`

	row := p.DB.QueryRowContext(ctx, query, keyID, n)
	return row.Err()
}
