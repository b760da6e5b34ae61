package result

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/victornm/arena/internal/domain"
)

const badgerPrefix = "result/"

// Badger stores results in an embedded key-value store, one JSON document per round.
type Badger struct {
	db *badger.DB
}

func NewBadger(db *badger.DB) *Badger {
	return &Badger{db: db}
}

// OpenBadger opens the store in dir. An empty dir keeps the data in memory.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("result: open badger: %w", err)
	}

	return db, nil
}

func (b *Badger) Save(_ context.Context, r domain.RoundResult) error {
	v, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("result: marshal: %w", err)
	}

	k := badgerKey(r.RoomID, r.ID)

	return b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		switch {
		case err == nil:
			return nil
		case err != badger.ErrKeyNotFound:
			return fmt.Errorf("result: get %s: %w", k, err)
		}

		return txn.Set(k, v)
	})
}

func (b *Badger) List(_ context.Context, f Filter) ([]domain.RoundResult, error) {
	prefix := []byte(badgerPrefix)
	if f.RoomID != "" {
		prefix = []byte(badgerPrefix + f.RoomID + "/")
	}

	var out []domain.RoundResult
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r domain.RoundResult
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &r)
			}); err != nil {
				return fmt.Errorf("result: decode %s: %w", it.Item().Key(), err)
			}

			if f.match(r) {
				out = append(out, r)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sortResults(out)
	return out, nil
}

func badgerKey(roomID, id string) []byte {
	return fmt.Appendf(nil, "%s%s/%s", badgerPrefix, roomID, id)
}
