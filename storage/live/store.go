////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package live is a small real-time store. Data lives under a path per
// conversation as an ordered list of entries, and listeners receive the
// complete list every time it changes.
package live

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/nesmo/connect/storage/versioned"
)

const (
	storePrefix = "liveStore"
	entriesKey  = "entries"
	entriesVer  = 0
	pathSep     = "/"
)

// ErrInvalidPath is returned for empty paths or paths nested deeper than
// "<list>/<entry>".
var ErrInvalidPath = errors.New("invalid live path")

// ErrEntryNotFound is returned by DeleteData when the entry is not in its
// list.
var ErrEntryNotFound = errors.New("live entry not found")

// Error messages.
const (
	loadEntriesErr = "failed to load live entries for %q"
	saveEntriesErr = "failed to save live entries for %q"
	unmarshalErr   = "failed to unmarshal live entries for %q"
)

// Entry is a single item in a live list.
type Entry struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

// Listener receives the complete ordered contents of a list. Listeners are
// called from the writing goroutine and must not write to the Store
// synchronously.
type Listener func(entries []Entry)

// Store is a path-addressed list store with change listeners.
type Store struct {
	kv *versioned.KV

	// notifyMux serialises writes together with their notifications so
	// listeners observe snapshots in write order.
	notifyMux sync.Mutex

	// mux guards listeners and the backing KV.
	mux          sync.Mutex
	listeners    map[string]map[uint64]Listener
	nextListener uint64
}

// NewStore creates a live store in a prefix of the given KV.
func NewStore(kv *versioned.KV) (*Store, error) {
	kv, err := kv.Prefix(storePrefix)
	if err != nil {
		return nil, err
	}
	return &Store{
		kv:        kv,
		listeners: make(map[string]map[uint64]Listener),
	}, nil
}

// ListenForChanges registers cb for the list at path. cb is called at once
// with the current contents and again after every change. The returned
// function removes the listener and may be called any number of times.
func (s *Store) ListenForChanges(path string, cb Listener) (func(), error) {
	list, entryID, err := splitPath(path)
	if err != nil {
		return nil, err
	} else if entryID != "" {
		return nil, errors.WithMessagef(ErrInvalidPath,
			"cannot listen to single entry %q", path)
	}

	s.notifyMux.Lock()
	defer s.notifyMux.Unlock()

	s.mux.Lock()
	entries, err := s.load(list)
	if err != nil {
		s.mux.Unlock()
		return nil, err
	}
	handle := s.nextListener
	s.nextListener++
	if s.listeners[list] == nil {
		s.listeners[list] = make(map[uint64]Listener)
	}
	s.listeners[list][handle] = cb
	s.mux.Unlock()

	jww.DEBUG.Printf("[LIVE] Listener %d added on %q", handle, list)
	cb(entries)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mux.Lock()
			delete(s.listeners[list], handle)
			if len(s.listeners[list]) == 0 {
				delete(s.listeners, list)
			}
			s.mux.Unlock()
			jww.DEBUG.Printf("[LIVE] Listener %d removed from %q", handle, list)
		})
	}, nil
}

// AddWithAutoID appends data to the list at path under a new random key and
// returns the key.
func (s *Store) AddWithAutoID(path string, data []byte) (string, error) {
	list, entryID, err := splitPath(path)
	if err != nil {
		return "", err
	} else if entryID != "" {
		return "", errors.WithMessagef(ErrInvalidPath,
			"cannot append below entry %q", path)
	}

	s.notifyMux.Lock()
	defer s.notifyMux.Unlock()

	s.mux.Lock()
	entries, err := s.load(list)
	if err != nil {
		s.mux.Unlock()
		return "", err
	}
	id := uuid.NewString()
	entries = append(entries, Entry{ID: id, Data: data})
	if err = s.save(list, entries); err != nil {
		s.mux.Unlock()
		return "", err
	}
	listeners := s.listenersFor(list)
	s.mux.Unlock()

	jww.TRACE.Printf("[LIVE] Added %s to %q (%d entries)", id, list,
		len(entries))
	notify(listeners, entries)
	return id, nil
}

// DeleteData removes the entry at "<list>/<entry>" or the whole list at
// "<list>". Removing a missing list is not an error; removing a missing entry
// returns ErrEntryNotFound.
func (s *Store) DeleteData(path string) error {
	list, entryID, err := splitPath(path)
	if err != nil {
		return err
	}

	s.notifyMux.Lock()
	defer s.notifyMux.Unlock()

	s.mux.Lock()
	entries, err := s.load(list)
	if err != nil {
		s.mux.Unlock()
		return err
	}

	var kept []Entry
	if entryID != "" {
		kept = make([]Entry, 0, len(entries))
		for _, e := range entries {
			if e.ID != entryID {
				kept = append(kept, e)
			}
		}
	}
	if len(kept) == len(entries) {
		s.mux.Unlock()
		if entryID != "" {
			return errors.WithMessagef(ErrEntryNotFound, "%q", path)
		}
		return nil
	}
	if err = s.save(list, kept); err != nil {
		s.mux.Unlock()
		return err
	}
	listeners := s.listenersFor(list)
	s.mux.Unlock()

	jww.TRACE.Printf("[LIVE] Deleted %q (%d entries remain)", path, len(kept))
	notify(listeners, kept)
	return nil
}

// Snapshot returns the current contents of the list at path.
func (s *Store) Snapshot(path string) ([]Entry, error) {
	list, entryID, err := splitPath(path)
	if err != nil {
		return nil, err
	} else if entryID != "" {
		return nil, errors.WithMessagef(ErrInvalidPath,
			"cannot snapshot single entry %q", path)
	}

	s.mux.Lock()
	defer s.mux.Unlock()
	return s.load(list)
}

// listenersFor copies the listeners of a list. Must be called with mux held.
func (s *Store) listenersFor(list string) []Listener {
	listeners := make([]Listener, 0, len(s.listeners[list]))
	for _, l := range s.listeners[list] {
		listeners = append(listeners, l)
	}
	return listeners
}

// load must be called with mux held.
func (s *Store) load(list string) ([]Entry, error) {
	kv, err := s.kv.Prefix(list)
	if err != nil {
		return nil, err
	}
	obj, err := kv.Get(entriesKey, entriesVer)
	if err != nil {
		if !kv.Exists(err) {
			return []Entry{}, nil
		}
		return nil, errors.Wrapf(err, loadEntriesErr, list)
	}

	var entries []Entry
	if err = json.Unmarshal(obj.Data, &entries); err != nil {
		return nil, errors.Wrapf(err, unmarshalErr, list)
	}
	return entries, nil
}

// save must be called with mux held.
func (s *Store) save(list string, entries []Entry) error {
	kv, err := s.kv.Prefix(list)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		if err = kv.Delete(entriesKey, entriesVer); err != nil &&
			kv.Exists(err) {
			return errors.Wrapf(err, saveEntriesErr, list)
		}
		return nil
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrapf(err, saveEntriesErr, list)
	}
	if err = kv.SetData(entriesKey, entriesVer, data); err != nil {
		return errors.Wrapf(err, saveEntriesErr, list)
	}
	return nil
}

// notify hands each listener its own copy of the entries.
func notify(listeners []Listener, entries []Entry) {
	for _, l := range listeners {
		snapshot := make([]Entry, len(entries))
		copy(snapshot, entries)
		l(snapshot)
	}
}

// splitPath splits "<list>" or "<list>/<entry>".
func splitPath(path string) (list, entry string, err error) {
	parts := strings.Split(path, pathSep)
	switch {
	case len(parts) == 1 && parts[0] != "":
		return parts[0], "", nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return parts[0], parts[1], nil
	default:
		return "", "", errors.WithMessagef(ErrInvalidPath, "%q", path)
	}
}
