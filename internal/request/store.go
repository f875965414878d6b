package request

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/etchlabs/etchd/internal/storage"
)

// Store errors.
var (
	ErrNotFound         = errors.New("request not found")
	ErrDuplicateID      = errors.New("request id already exists")
	ErrDuplicateAddress = errors.New("address already allocated")
	ErrDuplicateIndex   = errors.New("allocation index already used")
)

// Key prefixes for the request store.
var (
	prefixRequest = []byte("r/") // r/<id>        -> request JSON
	prefixAddress = []byte("a/") // a/<address>   -> id
	prefixIndex   = []byte("i/") // i/<index(8)>  -> id
)

// Store persists requests to a storage.DB with uniqueness indexes on
// address and allocation index.
//
// A single mutex guards every mutation, which makes UpdateStatus a true
// compare-and-swap: the precondition check and the write are one atomic
// step with respect to all other store calls. Reads take the same lock;
// contention is negligible at webhook rates.
type Store struct {
	mu sync.Mutex
	db storage.DB
}

// NewStore creates a request store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func requestKey(id string) []byte {
	return append(append([]byte{}, prefixRequest...), id...)
}

func addressKey(addr string) []byte {
	return append(append([]byte{}, prefixAddress...), addr...)
}

func indexKey(index uint32) []byte {
	key := make([]byte, len(prefixIndex)+8)
	copy(key, prefixIndex)
	binary.BigEndian.PutUint64(key[len(prefixIndex):], uint64(index))
	return key
}

// MaxIndex returns the highest allocation index ever persisted, or -1 when
// no request exists.
func (s *Store) MaxIndex() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxIndexLocked()
}

func (s *Store) maxIndexLocked() (int64, error) {
	max := int64(-1)
	err := s.db.ForEach(prefixIndex, func(key, value []byte) error {
		raw := key[len(prefixIndex):]
		if len(raw) != 8 {
			return fmt.Errorf("corrupt index key: %d bytes", len(raw))
		}
		idx := int64(binary.BigEndian.Uint64(raw))
		if idx > max {
			max = idx
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan indexes: %w", err)
	}
	return max, nil
}

// Insert persists a new request. It fails with a typed error when the ID,
// address, or index is already taken; a uniqueness violation is a hard
// error, never retried here, so a broken serialization discipline upstream
// surfaces instead of being masked.
func (s *Store) Insert(req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, err := s.db.Has(requestKey(req.ID)); err != nil {
		return fmt.Errorf("check id: %w", err)
	} else if ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, req.ID)
	}
	if ok, err := s.db.Has(addressKey(req.Address)); err != nil {
		return fmt.Errorf("check address: %w", err)
	} else if ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAddress, req.Address)
	}
	if ok, err := s.db.Has(indexKey(req.Index)); err != nil {
		return fmt.Errorf("check index: %w", err)
	} else if ok {
		return fmt.Errorf("%w: %d", ErrDuplicateIndex, req.Index)
	}

	if err := s.putLocked(req); err != nil {
		return err
	}
	if err := s.db.Put(addressKey(req.Address), []byte(req.ID)); err != nil {
		return fmt.Errorf("address index put: %w", err)
	}
	if err := s.db.Put(indexKey(req.Index), []byte(req.ID)); err != nil {
		return fmt.Errorf("index put: %w", err)
	}
	return nil
}

func (s *Store) putLocked(req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("request marshal: %w", err)
	}
	if err := s.db.Put(requestKey(req.ID), data); err != nil {
		return fmt.Errorf("request put: %w", err)
	}
	return nil
}

func (s *Store) getLocked(id string) (*Request, error) {
	data, err := s.db.Get(requestKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("request unmarshal: %w", err)
	}
	return &req, nil
}

// GetByID retrieves a request by its ID.
func (s *Store) GetByID(id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

// GetByAddress retrieves the request whose deposit address matches, in any
// status. Callers filter on status themselves.
func (s *Store) GetByAddress(addr string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idBytes, err := s.db.Get(addressKey(addr))
	if err != nil {
		return nil, fmt.Errorf("%w: address %s", ErrNotFound, addr)
	}
	return s.getLocked(string(idBytes))
}

// UpdateStatus is the conditional-update primitive: it moves the request to
// next and applies the field mutation only when the current status is one of
// expected. It returns false (and no error) when the precondition does not
// hold; the caller treats that as a raced no-op, not a failure.
//
// apply may be nil; when set it runs on the freshly-loaded request before
// the status is changed.
func (s *Store) UpdateStatus(id string, expected []Status, next Status, apply func(*Request)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.getLocked(id)
	if err != nil {
		return false, err
	}

	matched := false
	for _, want := range expected {
		if req.Status == want {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	if apply != nil {
		apply(req)
	}
	req.Status = next

	if err := s.putLocked(req); err != nil {
		return false, err
	}
	return true, nil
}

// SetWebhookID records the upstream subscription ID. Unconditional: the
// registration callback may land in any status.
func (s *Store) SetWebhookID(id, webhookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.getLocked(id)
	if err != nil {
		return err
	}
	req.WebhookID = webhookID
	return s.putLocked(req)
}

// List returns all requests, newest first.
func (s *Store) List() ([]*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reqs []*Request
	err := s.db.ForEach(prefixRequest, func(key, value []byte) error {
		var req Request
		if err := json.Unmarshal(value, &req); err != nil {
			return fmt.Errorf("request unmarshal %s: %w", key, err)
		}
		reqs = append(reqs, &req)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
	return reqs, nil
}

// Delete removes a request and its address index. Administrative only; the
// core pipeline never deletes.
//
// The allocation-index key is kept as a tombstone so MaxIndex never
// regresses: a deleted request must not cause its index (and therefore its
// address) to be handed out again.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if err := s.db.Delete(requestKey(id)); err != nil {
		return fmt.Errorf("request delete: %w", err)
	}
	if err := s.db.Delete(addressKey(req.Address)); err != nil {
		return fmt.Errorf("address index delete: %w", err)
	}
	return nil
}
