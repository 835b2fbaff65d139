// Package postgres implements identity.Store backed by PostgreSQL.
//
// Rows map one to one onto the identity types; the provider link uses a
// composite primary key (provider, subject) so a subject can only ever be
// linked once per provider. Reads go straight to the database, which keeps
// the store's freshness guarantee: a committed write is visible to the next
// read on any node sharing the database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pbartlett/gatehouse/identity"
	"github.com/pbartlett/gatehouse/internal/uuid"
)

// Store implements identity.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ identity.Store = (*Store)(nil)

// NewStore returns a Store over the given pgx connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromDSN creates a connection pool from a DSN string, ensures the
// schema exists, and returns a Store over it.
func NewStoreFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewStore(pool), nil
}

// Pool returns the underlying connection pool for sharing with other
// components.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) User(ctx context.Context, id string) (identity.User, error) {
	var u identity.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, display_name FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.User{}, fmt.Errorf("user %s: %w", id, identity.ErrNotFound)
	}
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func (s *Store) UserByIdentity(ctx context.Context, provider, subject string) (identity.User, error) {
	u, err := userByIdentity(ctx, s.pool, provider, subject)
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.User{}, fmt.Errorf("identity %s/%s: %w", provider, subject, identity.ErrNotFound)
	}
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func (s *Store) LinkIdentity(ctx context.Context, provider, subject string, profile identity.Profile) (identity.User, error) {
	// Fast path: the link already exists and is immutable.
	u, err := userByIdentity(ctx, s.pool, provider, subject)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return identity.User{}, err
	}

	u = identity.User{
		ID:          uuid.New(),
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
	}
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, email, display_name) VALUES ($1, $2, $3)`,
			u.ID, u.Email, u.DisplayName); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO identities (provider, subject, user_id, linked_at) VALUES ($1, $2, $3, $4)`,
			provider, subject, u.ID, time.Now().UTC())
		return err
	})
	if isUniqueViolation(err) {
		// A concurrent first authentication created the link; the winner's
		// user is the linked one.
		return s.UserByIdentity(ctx, provider, subject)
	}
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func (s *Store) Workspace(ctx context.Context, id string) (identity.Workspace, error) {
	var w identity.Workspace
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM workspaces WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.Workspace{}, fmt.Errorf("workspace %s: %w", id, identity.ErrNotFound)
	}
	if err != nil {
		return identity.Workspace{}, err
	}
	return w, nil
}

func (s *Store) CreateWorkspace(ctx context.Context, name string) (identity.Workspace, error) {
	w := identity.Workspace{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workspaces (id, name, created_at) VALUES ($1, $2, $3)`,
		w.ID, w.Name, w.CreatedAt)
	if err != nil {
		return identity.Workspace{}, err
	}
	return w, nil
}

func (s *Store) Membership(ctx context.Context, workspaceID, userID string) (identity.Membership, error) {
	var m identity.Membership
	err := s.pool.QueryRow(ctx,
		`SELECT workspace_id, user_id, role FROM memberships
		 WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID).
		Scan(&m.WorkspaceID, &m.UserID, &m.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.Membership{}, fmt.Errorf("membership %s/%s: %w", workspaceID, userID, identity.ErrNotFound)
	}
	if err != nil {
		return identity.Membership{}, err
	}
	return m, nil
}

func (s *Store) Memberships(ctx context.Context, userID string) ([]identity.Membership, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT workspace_id, user_id, role FROM memberships
		 WHERE user_id = $1 ORDER BY workspace_id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []identity.Membership
	for rows.Next() {
		var m identity.Membership
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Role); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) AddMembership(ctx context.Context, workspaceID, userID string, role identity.Role) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memberships (workspace_id, user_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = $3`,
		workspaceID, userID, role)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("membership %s/%s: %w", workspaceID, userID, identity.ErrNotFound)
	}
	return err
}

func (s *Store) ActiveWorkspace(ctx context.Context, userID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT workspace_id FROM active_workspaces WHERE user_id = $1`, userID).
		Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("binding for %s: %w", userID, identity.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) SetActiveWorkspace(ctx context.Context, userID, workspaceID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO active_workspaces (user_id, workspace_id) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET workspace_id = $2`,
		userID, workspaceID)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("workspace %s: %w", workspaceID, identity.ErrNotFound)
	}
	return err
}

func (s *Store) IsDeploymentAdmin(ctx context.Context, userID string) (bool, error) {
	var admin bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM admin_grants WHERE user_id = $1)`, userID).
		Scan(&admin)
	if err != nil {
		return false, err
	}
	return admin, nil
}

func (s *Store) SetDeploymentAdmin(ctx context.Context, userID string, admin bool) error {
	if admin {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO admin_grants (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, userID)
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM admin_grants WHERE user_id = $1`, userID)
	return err
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// querier abstracts *pgxpool.Pool and pgx.Tx for shared queries.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func userByIdentity(ctx context.Context, q querier, provider, subject string) (identity.User, error) {
	var u identity.User
	err := q.QueryRow(ctx,
		`SELECT u.id, u.email, u.display_name
		 FROM identities i JOIN users u ON u.id = i.user_id
		 WHERE i.provider = $1 AND i.subject = $2`,
		provider, subject).
		Scan(&u.ID, &u.Email, &u.DisplayName)
	return u, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
