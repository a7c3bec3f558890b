package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
)

const keyPrefix = "cart/"

// PebbleStore persists carts in a local PebbleDB so a diner's unsubmitted
// items survive a service restart.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens (or creates) a Pebble database in dir.
func NewPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// Close releases the database.
func (p *PebbleStore) Close() error { return p.db.Close() }

func pebbleKey(id ID) []byte {
	return []byte(keyPrefix + id.TableID + "/" + id.DinerID)
}

func (p *PebbleStore) Load(ctx context.Context, id ID) (Cart, error) {
	v, closer, err := p.db.Get(pebbleKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return Cart{}, nil
	}
	if err != nil {
		return Cart{}, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	var c Cart
	if err := json.Unmarshal(v, &c); err != nil {
		return Cart{}, fmt.Errorf("decode cart: %w", err)
	}
	return c, nil
}

func (p *PebbleStore) Save(ctx context.Context, id ID, c Cart) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := p.db.Set(pebbleKey(id), b, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

func (p *PebbleStore) Delete(ctx context.Context, id ID) error {
	if err := p.db.Delete(pebbleKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete: %w", err)
	}
	return nil
}
