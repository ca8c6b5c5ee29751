package store

import (
	"encoding/json"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"

	"shieldpool/internal/shielded"
)

var stateKey = []byte("pool/state")

// PebbleStore persists pool state in a pebble database. Every Save is a synchronous
// single-key write, so the stored state is always one complete version.
type PebbleStore struct {
	db *pebble.DB
}

// Open opens or creates the database at path. A nil fs uses the OS filesystem.
func Open(path string, fs vfs.FS) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Wrap(err, "open pebble")
	}
	return &PebbleStore{db: db}, nil
}

type pendingRecord struct {
	Recipient shielded.Address `json:"recipient"`
	Amount    uint64           `json:"amount"`
	Nonce     uint64           `json:"nonce"`
}

type stateRecord struct {
	Version   uint64         `json:"version"`
	Balance   uint64         `json:"balance"`
	NextNonce uint64         `json:"next_nonce"`
	Pending   *pendingRecord `json:"pending,omitempty"`
}

// Load implements shielded.StateStore.
func (p *PebbleStore) Load() (shielded.State, bool, error) {
	value, closer, err := p.db.Get(stateKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return shielded.State{}, false, nil
	}
	if err != nil {
		return shielded.State{}, false, errors.Wrap(err, "load state")
	}
	defer closer.Close()

	var rec stateRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return shielded.State{}, false, errors.Wrap(err, "decode state")
	}
	state := shielded.State{
		Version:   rec.Version,
		Balance:   rec.Balance,
		NextNonce: rec.NextNonce,
	}
	if rec.Pending != nil {
		state.Pending = &shielded.PendingPayout{
			Recipient: rec.Pending.Recipient,
			Amount:    rec.Pending.Amount,
			Nonce:     rec.Pending.Nonce,
		}
	}
	return state, true, nil
}

// Save implements shielded.StateStore.
func (p *PebbleStore) Save(state shielded.State) error {
	rec := stateRecord{
		Version:   state.Version,
		Balance:   state.Balance,
		NextNonce: state.NextNonce,
	}
	if state.Pending != nil {
		rec.Pending = &pendingRecord{
			Recipient: state.Pending.Recipient,
			Amount:    state.Pending.Amount,
			Nonce:     state.Pending.Nonce,
		}
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode state")
	}
	return errors.Wrap(p.db.Set(stateKey, value, &pebble.WriteOptions{Sync: true}), "save state")
}

// Close closes the database.
func (p *PebbleStore) Close() error {
	return p.db.Close()
}

var _ shielded.StateStore = (*PebbleStore)(nil)
