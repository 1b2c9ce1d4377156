package persistence

import "msx-grid-bot-go/internal/models"

// StateRepository defines the interface for runtime state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application. One record is kept per symbol.
type StateRepository interface {
	// SaveState atomically saves the runtime state for a symbol.
	SaveState(state *models.RuntimeState) error

	// LoadState loads the runtime state for a symbol.
	// If no state is found, it returns (nil, nil).
	LoadState(symbol string) (*models.RuntimeState, error)

	// DeleteState removes the runtime state for a symbol.
	DeleteState(symbol string) error

	// Close gracefully closes the connection to the database.
	Close() error
}
