package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
)

const (
	// tokenDirPerm is the permission mode for the token store directory.
	tokenDirPerm = fs.FileMode(0o700)

	// tokenFilePerm is the permission mode for the token database file.
	tokenFilePerm = fs.FileMode(0o600)

	// tokenOpenTimeout is the maximum time to wait for the bolt database lock.
	tokenOpenTimeout = 5 * time.Second
)

var userTokensBucket = []byte("user_tokens")

// BoltTokenStore persists user-consent tokens in a bbolt file readable only
// by its owner. It implements ebay.UserTokenStore.
type BoltTokenStore struct {
	db *bolt.DB
}

var _ ebay.UserTokenStore = (*BoltTokenStore)(nil)

// OpenBoltTokenStore opens the token database at path, creating the file and
// its directory if needed. An existing file is narrowed to owner-only
// permissions.
func OpenBoltTokenStore(path string) (*BoltTokenStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), tokenDirPerm); err != nil {
		return nil, fmt.Errorf("creating token store directory: %w", err)
	}

	db, err := bolt.Open(path, tokenFilePerm, &bolt.Options{Timeout: tokenOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening token store: %w", err)
	}

	if err := os.Chmod(path, tokenFilePerm); err != nil {
		_ = db.Close() //nolint:errcheck // already returning an error
		return nil, fmt.Errorf("restricting token store permissions: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(userTokensBucket)
		return err
	})
	if err != nil {
		_ = db.Close() //nolint:errcheck // already returning an error
		return nil, fmt.Errorf("creating token bucket: %w", err)
	}

	return &BoltTokenStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltTokenStore) Close() error {
	return s.db.Close()
}

// LoadUserToken returns the stored token for userID, or
// ebay.ErrTokenNotFound.
func (s *BoltTokenStore) LoadUserToken(_ context.Context, userID string) (*ebay.Token, error) {
	var tok *ebay.Token
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(userTokensBucket).Get([]byte(userID))
		if data == nil {
			return ebay.ErrTokenNotFound
		}
		tok = &ebay.Token{}
		return json.Unmarshal(data, tok)
	})
	if err != nil {
		return nil, fmt.Errorf("loading token for %q: %w", userID, err)
	}
	return tok, nil
}

// SaveUserToken stores tok for userID, replacing any previous token.
func (s *BoltTokenStore) SaveUserToken(_ context.Context, userID string, tok *ebay.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(userTokensBucket).Put([]byte(userID), data)
	})
}

// DeleteUserToken removes the token for userID. Deleting a missing token is
// not an error.
func (s *BoltTokenStore) DeleteUserToken(_ context.Context, userID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(userTokensBucket).Delete([]byte(userID))
	})
}

// UserIDs lists users with stored tokens.
func (s *BoltTokenStore) UserIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(userTokensBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}
