// Package auth implements the credential store: a single file holding a
// username-to-bcrypt-hash mapping, per spec.md §6. Grounded directly on
// original_source/src/authentication/mod.rs, translated from its
// RwLock<AuthenticationData>+bincode shape into a sync.RWMutex-guarded
// struct persisted with msgpack, matching the durable log's serialization
// choice (internal/storage).
package auth

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrUserAlreadyExists is returned by Add when the username is taken.
var ErrUserAlreadyExists = errors.New("auth: user already exists")

type user struct {
	Username string `msgpack:"username"`
	Password string `msgpack:"password"`
}

type data struct {
	Users map[string]user `msgpack:"users"`
}

func newData() data {
	return data{Users: make(map[string]user)}
}

// Store is the credential store: verify(user, pw), add(user, pw), and
// add_if_empty(user, pw) from spec.md §6.
type Store struct {
	mu   sync.RWMutex
	data data
	path string
	cost int
}

// DefaultCost mirrors the original's release-build BCRYPT_ROUNDS of 13.
const DefaultCost = 13

// Open loads the store at path, treating a missing file as an empty
// store (original_source's load() does the same for IOErrorKind::NotFound).
func Open(path string, cost int) (*Store, error) {
	if cost <= 0 {
		cost = DefaultCost
	}

	d, err := load(path)
	if err != nil {
		return nil, err
	}

	return &Store{data: d, path: path, cost: cost}, nil
}

func load(path string) (data, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newData(), nil
		}
		return data{}, errors.Wrapf(err, "auth: failed to open %s", path)
	}
	defer f.Close()

	var d data
	if err := msgpack.NewDecoder(f).Decode(&d); err != nil {
		return data{}, errors.Wrapf(err, "auth: failed to decode %s", path)
	}
	if d.Users == nil {
		d.Users = make(map[string]user)
	}
	return d, nil
}

// saveChanges rewrites the whole file, matching the original's
// save_changes: the credential file is small and rewritten wholesale
// rather than appended, unlike the message log.
func (s *Store) saveChanges() error {
	f, err := os.Create(s.path)
	if err != nil {
		return errors.Wrapf(err, "auth: failed to create %s", s.path)
	}
	defer f.Close()

	if err := msgpack.NewEncoder(f).Encode(s.data); err != nil {
		return errors.Wrapf(err, "auth: failed to encode %s", s.path)
	}
	return nil
}

// Verify reports whether username/password is a valid credential pair.
// An unknown username is not an error: it verifies false, same as a
// wrong password.
func (s *Store) Verify(username, password string) (bool, error) {
	s.mu.RLock()
	u, ok := s.data.Users[username]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, errors.Wrap(err, "auth: bcrypt verify failed")
	}
	return true, nil
}

// Add creates a new user, failing if the username is already present.
func (s *Store) Add(username, password string) error {
	s.mu.Lock()
	if _, exists := s.data.Users[username]; exists {
		s.mu.Unlock()
		return ErrUserAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "auth: failed to hash password")
	}
	s.data.Users[username] = user{Username: username, Password: string(hash)}
	s.mu.Unlock()

	return s.saveChanges()
}

// AddIfEmpty adds username/password only if the store currently has no
// users, returning true iff it did so. Used to seed the default
// guest/guest account on first boot (spec.md §6).
func (s *Store) AddIfEmpty(username, password string) (bool, error) {
	s.mu.Lock()
	if len(s.data.Users) > 0 {
		s.mu.Unlock()
		return false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		s.mu.Unlock()
		return false, errors.Wrap(err, "auth: failed to hash password")
	}
	s.data.Users[username] = user{Username: username, Password: string(hash)}
	s.mu.Unlock()

	if err := s.saveChanges(); err != nil {
		return false, err
	}
	return true, nil
}
