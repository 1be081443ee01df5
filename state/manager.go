package state

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"reefchain/storage"
)

var (
	rolePrefix = []byte("state/role/")
)

// Manager provides typed access to the platform's persistent key-value state.
// Values are RLP encoded so on-disk layout stays deterministic across
// backends. Native modules receive the manager through their state interfaces
// rather than reaching for ambient globals, which keeps them independently
// testable against an in-memory database.
type Manager struct {
	db storage.Database
}

// NewManager wraps the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// KVGet decodes the stored value into out. The boolean reports whether the key
// was present.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, fmt.Errorf("state: manager not initialised")
	}
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut encodes value with RLP and stores it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not initialised")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, encoded)
}

// GrantRole authorises the address for the supplied role.
func (m *Manager) GrantRole(role string, addr []byte) error {
	key, err := roleKey(role, addr)
	if err != nil {
		return err
	}
	return m.KVPut(key, uint8(1))
}

// RevokeRole removes the role from the address. Revoking an absent role is a
// no-op.
func (m *Manager) RevokeRole(role string, addr []byte) error {
	key, err := roleKey(role, addr)
	if err != nil {
		return err
	}
	return m.KVPut(key, uint8(0))
}

// HasRole reports whether the address currently holds the role.
func (m *Manager) HasRole(role string, addr []byte) bool {
	if m == nil || m.db == nil {
		return false
	}
	key, err := roleKey(role, addr)
	if err != nil {
		return false
	}
	var granted uint8
	ok, err := m.KVGet(key, &granted)
	if err != nil || !ok {
		return false
	}
	return granted == 1
}

func roleKey(role string, addr []byte) ([]byte, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(role))
	if trimmed == "" {
		return nil, fmt.Errorf("state: role required")
	}
	if len(addr) == 0 {
		return nil, fmt.Errorf("state: address required")
	}
	buf := make([]byte, 0, len(rolePrefix)+len(trimmed)+1+len(addr))
	buf = append(buf, rolePrefix...)
	buf = append(buf, trimmed...)
	buf = append(buf, '/')
	buf = append(buf, addr...)
	return buf, nil
}
