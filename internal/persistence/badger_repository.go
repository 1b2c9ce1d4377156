package persistence

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v3"

	"msx-grid-bot-go/internal/models"
)

const stateKeyPrefix = "strategy_state/"

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is disabled to keep the app's logs clean.
	// Errors are still returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{db: db}, nil
}

func stateKey(symbol string) []byte {
	return []byte(stateKeyPrefix + symbol)
}

// SaveState atomically saves the runtime state for a symbol.
// It marshals the state struct into JSON and saves it under a per-symbol key.
func (r *badgerRepository) SaveState(state *models.RuntimeState) error {
	state.UpdatedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(state.Symbol), data)
	})
}

// LoadState loads the runtime state for a symbol.
// If the key is not found, it returns (nil, nil) to indicate no state is present.
func (r *badgerRepository) LoadState(symbol string) (*models.RuntimeState, error) {
	var state models.RuntimeState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(symbol))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil // The expected "no state found" case.
	}
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// DeleteState removes the runtime state for a symbol.
func (r *badgerRepository) DeleteState(symbol string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(stateKey(symbol))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
