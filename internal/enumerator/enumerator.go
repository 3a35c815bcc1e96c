package enumerator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/refindex/internal/storage"
	"github.com/dshills/refindex/pkg/types"
)

// DefaultCacheSize is the number of entries cached in each direction
const DefaultCacheSize = 8192

// Enumerator interns strings to dense sequential ids starting at 1. Ids
// are never reused or reassigned; entries are never deleted.
type Enumerator[ID ~uint32] struct {
	store *storage.EnumStore

	mu      sync.Mutex
	next    ID
	byValue *lru.Cache[string, ID]
	byID    *lru.Cache[ID, string]
}

// Open loads the enumerator persisted in table and checks that its ids are
// dense. A gap, a duplicate or an unreadable row is reported as
// types.ErrEnumeratorCorruption.
func Open[ID ~uint32](ctx context.Context, db *storage.DB, table string, cacheSize int) (*Enumerator[ID], error) {
	store, err := storage.NewEnumStore(db, table)
	if err != nil {
		return nil, err
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	byValue, err := lru.New[string, ID](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	byID, err := lru.New[ID, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	e := &Enumerator[ID]{store: store, byValue: byValue, byID: byID}
	if err := e.load(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Enumerator[ID]) load(ctx context.Context) error {
	count, maxID, err := e.store.Stats(ctx)
	if err != nil {
		return e.corrupt(err)
	}
	if count > 0 {
		minID, err := e.store.MinID(ctx)
		if err != nil {
			return e.corrupt(err)
		}
		if minID != 1 || uint64(count) != uint64(maxID) {
			return fmt.Errorf("%w: %s holds %d ids in [%d, %d]", types.ErrEnumeratorCorruption, e.store.Table(), count, minID, maxID)
		}
	}
	e.next = ID(maxID + 1)
	return nil
}

// corrupt classifies a failed read of the backing store
func (e *Enumerator[ID]) corrupt(err error) error {
	if errors.Is(err, types.ErrClosed) || errors.Is(err, types.ErrEnumeratorCorruption) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", types.ErrEnumeratorCorruption, e.store.Table(), err)
}

// Intern returns the id of value, allocating the next id if value was never
// seen. The new mapping is written in the current transaction.
func (e *Enumerator[ID]) Intern(ctx context.Context, value string) (ID, error) {
	if value == "" {
		return 0, fmt.Errorf("%w: empty %s value", types.ErrInvalidKey, e.store.Table())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if id, ok := e.byValue.Get(value); ok {
		return id, nil
	}
	id, ok, err := e.store.Find(ctx, value)
	if err != nil {
		return 0, e.corrupt(err)
	}
	if ok {
		e.remember(ID(id), value)
		return ID(id), nil
	}

	if e.next == 0 {
		return 0, fmt.Errorf("%w: %s id space exhausted", types.ErrEnumeratorCorruption, e.store.Table())
	}
	newID := e.next
	if err := e.store.Insert(ctx, uint32(newID), value); err != nil {
		return 0, err
	}
	e.next++
	e.remember(newID, value)
	return newID, nil
}

// Lookup returns the id of value without allocating one
func (e *Enumerator[ID]) Lookup(ctx context.Context, value string) (ID, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id, ok := e.byValue.Get(value); ok {
		return id, true, nil
	}
	id, ok, err := e.store.Find(ctx, value)
	if err != nil {
		return 0, false, e.corrupt(err)
	}
	if ok {
		e.remember(ID(id), value)
	}
	return ID(id), ok, nil
}

// ValueOf returns the string id was allocated for, or types.ErrNotFound
func (e *Enumerator[ID]) ValueOf(ctx context.Context, id ID) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if value, ok := e.byID.Get(id); ok {
		return value, nil
	}
	if id == 0 || id >= e.next {
		return "", fmt.Errorf("%w: %s id %d", types.ErrNotFound, e.store.Table(), id)
	}
	value, ok, err := e.store.Get(ctx, uint32(id))
	if err != nil {
		return "", e.corrupt(err)
	}
	if !ok {
		// Allocated ids are dense, so a missing row is a hole in the store
		return "", fmt.Errorf("%w: %s id %d missing", types.ErrEnumeratorCorruption, e.store.Table(), id)
	}
	e.remember(id, value)
	return value, nil
}

// Len returns the number of allocated ids
func (e *Enumerator[ID]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.next) - 1
}

// Reload drops the caches and re-reads the allocation high-water mark.
// Call it after the underlying transaction was discarded.
func (e *Enumerator[ID]) Reload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byValue.Purge()
	e.byID.Purge()
	return e.load(ctx)
}

func (e *Enumerator[ID]) remember(id ID, value string) {
	e.byValue.Add(value, id)
	e.byID.Add(id, value)
}
