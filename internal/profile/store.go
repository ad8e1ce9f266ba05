// Package profile persists user health profiles as one JSON document per
// user.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"

	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/domain"
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_@-][A-Za-z0-9._@-]{0,127}$`)

// Store reads and writes profiles under a directory.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, goerr.Wrap(err, "failed to create profile directory", goerr.V("dir", dir))
	}
	return &Store{dir: dir}, nil
}

// ValidUserID reports whether id can name a profile file.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

func (s *Store) path(userID string) (string, error) {
	if !ValidUserID(userID) {
		return "", goerr.Wrap(domain.ErrInvalidArgument, "invalid user id", goerr.V("user", userID))
	}
	return filepath.Join(s.dir, userID+".json"), nil
}

// Get returns the profile of userID or domain.ErrProfileNotFound.
func (s *Store) Get(ctx context.Context, userID string) (*domain.UserProfile, error) {
	path, err := s.path(userID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, goerr.Wrap(domain.ErrProfileNotFound, "no profile stored", goerr.V("user", userID))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read profile", goerr.V("user", userID))
	}
	var p domain.UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, goerr.Wrap(err, "failed to decode profile", goerr.V("user", userID))
	}
	p.UserID = userID
	return &p, nil
}

// Save replaces the stored profile of p.UserID.
func (s *Store) Save(ctx context.Context, p *domain.UserProfile) error {
	if p == nil {
		return goerr.Wrap(domain.ErrInvalidArgument, "profile is nil")
	}
	path, err := s.path(p.UserID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode profile", goerr.V("user", p.UserID))
	}

	tmp, err := os.CreateTemp(s.dir, ".profile-*")
	if err != nil {
		return goerr.Wrap(err, "failed to create temporary profile")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to write profile", goerr.V("user", p.UserID))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close profile", goerr.V("user", p.UserID))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return goerr.Wrap(err, "failed to store profile", goerr.V("user", p.UserID))
	}
	return nil
}
