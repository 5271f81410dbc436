package store

import (
	"errors"

	"github.com/coursepulse/notifyd/internal/db"
)

// ErrNotFound is returned when a row does not exist. Callers that create
// records lazily (preferences) branch on it.
var ErrNotFound = errors.New("not found")

type Store struct{ db *db.DB }

func New(d *db.DB) *Store { return &Store{db: d} }
