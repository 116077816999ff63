package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/countersignhq/countersign/model"
)

// PgLookup is a PostgreSQL-backed Lookup using pgx/v5.
type PgLookup struct {
	pool *pgxpool.Pool
}

// NewPgLookup creates a PostgreSQL user lookup.
func NewPgLookup(pool *pgxpool.Pool) *PgLookup {
	return &PgLookup{pool: pool}
}

// HealthCheck pings the database. Used by the readiness endpoint.
func (l *PgLookup) HealthCheck(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// ByEmail implements Lookup.
func (l *PgLookup) ByEmail(ctx context.Context, accountID, email string) (*model.User, error) {
	var user model.User
	err := l.pool.QueryRow(ctx, `
		SELECT id, account_id, email, first_name, last_name, COALESCE(initials_blob_id, '')
		FROM users
		WHERE account_id = $1 AND lower(email) = lower($2)`,
		accountID, email,
	).Scan(&user.ID, &user.AccountID, &user.Email, &user.FirstName, &user.LastName, &user.InitialsBlobID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user by email: %w", err)
	}
	return &user, nil
}
