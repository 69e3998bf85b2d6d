package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// StateStore is the CLI's local state: query history and last-seen bookmarks
// per server, kept in a badger database under ~/.nornic/state.
//
// The driver itself is stateless; bookmarks only matter across process
// lifetimes for a tool like this, so persistence lives here and not in the
// driver.
type StateStore struct {
	db *badger.DB
}

// HistoryEntry is one recorded query.
type HistoryEntry struct {
	At    time.Time
	URI   string
	Query string
}

const (
	historyPrefix  = "history:"
	bookmarkPrefix = "bookmark:"
)

// OpenStateStore opens (creating if needed) the local state database. An
// empty dir uses ~/.nornic/state.
func OpenStateStore(dir string) (*StateStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".nornic", "state")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return &StateStore{db: db}, nil
}

// Close flushes and closes the store.
func (s *StateStore) Close() error {
	return s.db.Close()
}

// AppendHistory records an executed query. Keys are timestamped so
// iteration order is chronological.
func (s *StateStore) AppendHistory(uri, query string) error {
	key := historyPrefix + strconv.FormatInt(time.Now().UnixNano(), 10)
	value := uri + "\x00" + query
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
}

// History returns the most recent entries, newest first.
func (s *StateStore) History(limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts just past the history keyspace.
		seek := []byte(historyPrefix + "~")
		prefix := []byte(historyPrefix)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(entries) < limit; it.Next() {
			item := it.Item()
			nanos, err := strconv.ParseInt(strings.TrimPrefix(string(item.Key()), historyPrefix), 10, 64)
			if err != nil {
				continue
			}
			err = item.Value(func(val []byte) error {
				uri, query, ok := strings.Cut(string(val), "\x00")
				if !ok {
					return nil
				}
				entries = append(entries, HistoryEntry{
					At:    time.Unix(0, nanos),
					URI:   uri,
					Query: query,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return entries, err
}

// SetBookmark records the latest bookmark seen from a server, so a later
// session can chain causally after this one.
func (s *StateStore) SetBookmark(uri, bookmark string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(bookmarkPrefix+uri), []byte(bookmark))
	})
}

// Bookmark returns the last recorded bookmark for a server, or "" if none.
func (s *StateStore) Bookmark(uri string) (string, error) {
	var bookmark string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(bookmarkPrefix + uri))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			bookmark = string(val)
			return nil
		})
	})
	return bookmark, err
}
