// Package preload overlaps performance database parsing with the rest of
// process startup. Each registered path owns one asynchronous load; later
// requests for the same path join the in-flight load instead of paying the
// cost twice. Completed results are moved out on first retrieval.
package preload

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/perflab/kerntune/internal/logger"
	"github.com/perflab/kerntune/internal/perfdb"
)

var (
	// ErrNeverStarted means retrieval was requested for a path no load was
	// ever registered for. Callers should fall back to a synchronous load.
	ErrNeverStarted = errors.New("preload: no load was started for path")

	// ErrConsumed means the completed result for the path was already
	// retrieved once. Ownership moves out on first retrieval; a second
	// retrieval is an ordering bug in the caller.
	ErrConsumed = errors.New("preload: database already consumed")

	// ErrWrongKind means the load registered for the path produced the
	// other database variant than the one requested.
	ErrWrongKind = errors.New("preload: database kind mismatch")
)

// Db is the result of one preload: exactly one of the two variants is set.
type Db struct {
	Ram      *perfdb.RamDB
	Readonly *perfdb.ReadonlyRamDB
}

// Loader produces a database from a file path. It runs on the preload
// goroutine, not on the registering thread.
type Loader func(path string) (Db, error)

type future struct {
	done     chan struct{}
	db       Db
	err      error
	consumed bool
}

// States owns all process-wide preload bookkeeping. It must be constructed
// with NewStates before first use and passed explicitly to every call site;
// there is no implicit global instance. The zero value is not usable.
type States struct {
	mu      sync.Mutex
	futures map[string]*future
	started atomic.Bool
}

func NewStates() *States {
	return &States{futures: make(map[string]*future)}
}

// StartPreloadingDb registers an asynchronous load for path. If a load for
// the path is already registered this is a no-op, so concurrent callers for
// one file trigger exactly one underlying load. The caller does not block
// on the load itself; the registration lock covers only the map insert.
func (s *States) StartPreloadingDb(path string, load Loader) {
	s.mu.Lock()
	if _, ok := s.futures[path]; ok {
		s.mu.Unlock()
		return
	}
	f := &future{done: make(chan struct{})}
	s.futures[path] = f
	s.mu.Unlock()

	go func() {
		f.db, f.err = load(path)
		close(f.done)
	}()
}

// TryStartPreloadingDbs runs preload at most once per States, no matter how
// many subsystems call it during startup. The closure is expected to call
// StartPreloadingDb for the known set of database paths. Losers of the race
// return immediately without waiting for the winner's closure to finish
// registering.
func (s *States) TryStartPreloadingDbs(preload func()) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	preload()
}

// GetPreloadedRamDb joins the load registered for path and moves the
// resulting writable database out to the caller.
func (s *States) GetPreloadedRamDb(path string) (*perfdb.RamDB, error) {
	db, err := s.take(path)
	if err != nil {
		return nil, err
	}
	if db.Ram == nil {
		return nil, fmt.Errorf("%w: %s holds a read-only database", ErrWrongKind, path)
	}
	return db.Ram, nil
}

// GetPreloadedReadonlyRamDb joins the load registered for path and moves
// the resulting read-only database out to the caller.
func (s *States) GetPreloadedReadonlyRamDb(path string) (*perfdb.ReadonlyRamDB, error) {
	db, err := s.take(path)
	if err != nil {
		return nil, err
	}
	if db.Readonly == nil {
		return nil, fmt.Errorf("%w: %s holds a writable database", ErrWrongKind, path)
	}
	return db.Readonly, nil
}

// take blocks until the load for path completes, then extracts its result.
// The registration lock is never held across the wait.
func (s *States) take(path string) (Db, error) {
	s.mu.Lock()
	f, ok := s.futures[path]
	s.mu.Unlock()
	if !ok {
		return Db{}, fmt.Errorf("%w: %s", ErrNeverStarted, path)
	}

	<-f.done

	s.mu.Lock()
	defer s.mu.Unlock()
	if f.consumed {
		return Db{}, fmt.Errorf("%w: %s", ErrConsumed, path)
	}
	f.consumed = true
	db, err := f.db, f.err
	f.db = Db{}
	return db, err
}

// RamDbLoader builds a Loader producing writable databases.
func RamDbLoader(log logger.Logger) Loader {
	return func(path string) (Db, error) {
		db, err := perfdb.LoadRamDB(path, log)
		if err != nil {
			return Db{}, err
		}
		return Db{Ram: db}, nil
	}
}

// ReadonlyRamDbLoader builds a Loader producing read-only databases.
func ReadonlyRamDbLoader(log logger.Logger) Loader {
	return func(path string) (Db, error) {
		db, err := perfdb.LoadReadonlyRamDB(path, log)
		if err != nil {
			return Db{}, err
		}
		return Db{Readonly: db}, nil
	}
}
