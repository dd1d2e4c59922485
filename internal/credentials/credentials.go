// Package credentials resolves account passwords from an explicit value or
// the operating system's secret store.
package credentials

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name passwords are filed under in the OS
// secret store.
const KeyringService = "icloudgo://icloud-password"

// SecretStore is the subset of an OS secret store the resolver needs.
type SecretStore interface {
	Get(service, user string) (string, error)
	Set(service, user, password string) error
	Delete(service, user string) error
}

type systemKeyring struct{}

func (systemKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (systemKeyring) Set(service, user, password string) error { return keyring.Set(service, user, password) }
func (systemKeyring) Delete(service, user string) error        { return keyring.Delete(service, user) }

// SystemKeyring returns the secret store backed by the host's credential
// manager (Keychain, Secret Service or Windows Credential Manager).
func SystemKeyring() SecretStore {
	return systemKeyring{}
}

// UnavailableError reports that no password could be resolved for an identity.
type UnavailableError struct {
	Identity string
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, keyring.ErrNotFound) {
		return fmt.Sprintf("no password available for %s: %v", e.Identity, e.Err)
	}
	return fmt.Sprintf("no password available for %s", e.Identity)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}

// Store resolves and manages passwords for account identities.
type Store struct {
	secrets SecretStore
}

// NewStore creates a Store. A nil secrets falls back to SystemKeyring.
func NewStore(secrets SecretStore) *Store {
	if secrets == nil {
		secrets = SystemKeyring()
	}
	return &Store{secrets: secrets}
}

// ResolvePassword returns explicit when it is non-empty, otherwise the
// password stored for identity.
func (s *Store) ResolvePassword(identity, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	password, err := s.secrets.Get(KeyringService, identity)
	if err != nil {
		return "", &UnavailableError{Identity: identity, Err: err}
	}
	if password == "" {
		return "", &UnavailableError{Identity: identity}
	}
	return password, nil
}

// HasPassword reports whether a password is stored for identity.
func (s *Store) HasPassword(identity string) bool {
	password, err := s.secrets.Get(KeyringService, identity)
	return err == nil && password != ""
}

// StorePassword files password for identity in the secret store.
func (s *Store) StorePassword(identity, password string) error {
	if err := s.secrets.Set(KeyringService, identity, password); err != nil {
		return fmt.Errorf("failed to store password for %s: %w", identity, err)
	}
	return nil
}

// DeletePassword removes the stored password for identity. Deleting a
// password that is not stored is not an error.
func (s *Store) DeletePassword(identity string) error {
	err := s.secrets.Delete(KeyringService, identity)
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("failed to delete password for %s: %w", identity, err)
}
