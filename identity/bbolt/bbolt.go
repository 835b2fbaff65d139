// Package bbolt provides a BBolt-backed implementation of identity.Store.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/pbartlett/gatehouse/identity"
	"github.com/pbartlett/gatehouse/internal/uuid"
)

var (
	bucketUsers       = []byte("users")
	bucketIdentities  = []byte("identities")
	bucketWorkspaces  = []byte("workspaces")
	bucketMemberships = []byte("memberships")
	bucketBindings    = []byte("bindings")
	bucketAdmins      = []byte("admins")
)

// Store implements identity.Store backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ identity.Store = (*Store)(nil)

// NewStore returns a Store backed by the given BBolt database, creating the
// identity buckets if they do not exist yet.
func NewStore(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers, bucketIdentities, bucketWorkspaces,
			bucketMemberships, bucketBindings, bucketAdmins,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating identity buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreFromFile opens a BBolt database at the given path and returns a
// Store over it.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db)
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func identityKey(provider, subject string) []byte {
	return []byte(provider + "\x00" + subject)
}

func membershipKey(workspaceID, userID string) []byte {
	return []byte(workspaceID + "\x00" + userID)
}

func getJSON(b *bbolt.Bucket, key []byte, out any) error {
	data := b.Get(key)
	if data == nil {
		return identity.ErrNotFound
	}
	return json.Unmarshal(data, out)
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func (s *Store) User(_ context.Context, id string) (identity.User, error) {
	var u identity.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(bucketUsers), []byte(id), &u)
	})
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func (s *Store) UserByIdentity(_ context.Context, provider, subject string) (identity.User, error) {
	var u identity.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var link identity.Identity
		if err := getJSON(tx.Bucket(bucketIdentities), identityKey(provider, subject), &link); err != nil {
			return err
		}
		return getJSON(tx.Bucket(bucketUsers), []byte(link.UserID), &u)
	})
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func (s *Store) LinkIdentity(_ context.Context, provider, subject string, profile identity.Profile) (identity.User, error) {
	var u identity.User
	err := s.db.Update(func(tx *bbolt.Tx) error {
		links := tx.Bucket(bucketIdentities)
		key := identityKey(provider, subject)

		// An existing link wins; the stored user is returned unmodified.
		if data := links.Get(key); data != nil {
			var link identity.Identity
			if err := json.Unmarshal(data, &link); err != nil {
				return err
			}
			return getJSON(tx.Bucket(bucketUsers), []byte(link.UserID), &u)
		}

		u = identity.User{
			ID:          uuid.New(),
			Email:       profile.Email,
			DisplayName: profile.DisplayName,
		}
		if err := putJSON(tx.Bucket(bucketUsers), []byte(u.ID), u); err != nil {
			return err
		}
		return putJSON(links, key, identity.Identity{
			Provider: provider,
			Subject:  subject,
			UserID:   u.ID,
			LinkedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func (s *Store) Workspace(_ context.Context, id string) (identity.Workspace, error) {
	var w identity.Workspace
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(bucketWorkspaces), []byte(id), &w)
	})
	if err != nil {
		return identity.Workspace{}, err
	}
	return w, nil
}

func (s *Store) CreateWorkspace(_ context.Context, name string) (identity.Workspace, error) {
	w := identity.Workspace{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketWorkspaces), []byte(w.ID), w)
	})
	if err != nil {
		return identity.Workspace{}, err
	}
	return w, nil
}

func (s *Store) Membership(_ context.Context, workspaceID, userID string) (identity.Membership, error) {
	var m identity.Membership
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(bucketMemberships), membershipKey(workspaceID, userID), &m)
	})
	if err != nil {
		return identity.Membership{}, err
	}
	return m, nil
}

func (s *Store) Memberships(_ context.Context, userID string) ([]identity.Membership, error) {
	var out []identity.Membership
	err := s.db.View(func(tx *bbolt.Tx) error {
		// Keys sort by workspace id, so iteration order is already the
		// order the interface promises.
		return tx.Bucket(bucketMemberships).ForEach(func(_, v []byte) error {
			var m identity.Membership
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.UserID == userID {
				out = append(out, m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AddMembership(_ context.Context, workspaceID, userID string, role identity.Role) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketWorkspaces).Get([]byte(workspaceID)) == nil {
			return identity.ErrNotFound
		}
		if tx.Bucket(bucketUsers).Get([]byte(userID)) == nil {
			return identity.ErrNotFound
		}
		return putJSON(tx.Bucket(bucketMemberships), membershipKey(workspaceID, userID), identity.Membership{
			WorkspaceID: workspaceID,
			UserID:      userID,
			Role:        role,
		})
	})
}

func (s *Store) ActiveWorkspace(_ context.Context, userID string) (string, error) {
	var id string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketBindings).Get([]byte(userID))
		if data == nil {
			return identity.ErrNotFound
		}
		id = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) SetActiveWorkspace(_ context.Context, userID, workspaceID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketWorkspaces).Get([]byte(workspaceID)) == nil {
			return identity.ErrNotFound
		}
		return tx.Bucket(bucketBindings).Put([]byte(userID), []byte(workspaceID))
	})
}

func (s *Store) IsDeploymentAdmin(_ context.Context, userID string) (bool, error) {
	var admin bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		admin = tx.Bucket(bucketAdmins).Get([]byte(userID)) != nil
		return nil
	})
	if err != nil {
		return false, err
	}
	return admin, nil
}

func (s *Store) SetDeploymentAdmin(_ context.Context, userID string, admin bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAdmins)
		if admin {
			return b.Put([]byte(userID), []byte{1})
		}
		return b.Delete([]byte(userID))
	})
}
