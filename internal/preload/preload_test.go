package preload

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/perflab/kerntune/internal/logger"
	"github.com/perflab/kerntune/internal/perfdb"
)

func writeDb(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write db file: %v", err)
	}
	return path
}

func TestPreloadAndRetrieveRamDb(t *testing.T) {
	t.Parallel()

	path := writeDb(t, "user.db", "key=s:cfg\n")
	states := NewStates()
	states.StartPreloadingDb(path, RamDbLoader(logger.Discard()))

	db, err := states.GetPreloadedRamDb(path)
	if err != nil {
		t.Fatalf("get preloaded: %v", err)
	}
	if cfg, ok := db.Load("key", "s"); !ok || cfg != "cfg" {
		t.Fatalf("preloaded content wrong: got %q,%v", cfg, ok)
	}
}

func TestPreloadAndRetrieveReadonlyRamDb(t *testing.T) {
	t.Parallel()

	path := writeDb(t, "system.db", "key=s:factory\n")
	states := NewStates()
	states.StartPreloadingDb(path, ReadonlyRamDbLoader(logger.Discard()))

	db, err := states.GetPreloadedReadonlyRamDb(path)
	if err != nil {
		t.Fatalf("get preloaded: %v", err)
	}
	if cfg, ok := db.Load("key", "s"); !ok || cfg != "factory" {
		t.Fatalf("preloaded content wrong: got %q,%v", cfg, ok)
	}
}

func TestDuplicateStartLoadsOnce(t *testing.T) {
	t.Parallel()

	var loads atomic.Int32
	release := make(chan struct{})
	loader := func(path string) (Db, error) {
		loads.Add(1)
		<-release
		return Db{Ram: perfdb.NewRamDB(path, logger.Discard())}, nil
	}

	states := NewStates()
	// Register twice before the first load can complete.
	states.StartPreloadingDb("same/path.db", loader)
	states.StartPreloadingDb("same/path.db", loader)
	close(release)

	if _, err := states.GetPreloadedRamDb("same/path.db"); err != nil {
		t.Fatalf("get preloaded: %v", err)
	}
	if got := loads.Load(); got != 1 {
		t.Fatalf("expected exactly one load, got %d", got)
	}
}

func TestConcurrentRegistrationLoadsOnce(t *testing.T) {
	t.Parallel()

	var loads atomic.Int32
	loader := func(path string) (Db, error) {
		loads.Add(1)
		return Db{Ram: perfdb.NewRamDB(path, logger.Discard())}, nil
	}

	states := NewStates()
	const callers = 32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			states.StartPreloadingDb("shared.db", loader)
		}()
	}
	wg.Wait()

	if _, err := states.GetPreloadedRamDb("shared.db"); err != nil {
		t.Fatalf("get preloaded: %v", err)
	}
	if got := loads.Load(); got != 1 {
		t.Fatalf("expected exactly one load, got %d", got)
	}
}

func TestTryStartPreloadingDbsRunsOnce(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	states := NewStates()

	const callers = 16
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			states.TryStartPreloadingDbs(func() {
				runs.Add(1)
			})
		}()
	}
	wg.Wait()

	if got := runs.Load(); got != 1 {
		t.Fatalf("expected registration closure to run once, got %d", got)
	}
}

func TestGetNeverStarted(t *testing.T) {
	t.Parallel()

	states := NewStates()
	if _, err := states.GetPreloadedRamDb("unregistered.db"); !errors.Is(err, ErrNeverStarted) {
		t.Fatalf("expected ErrNeverStarted, got %v", err)
	}
	if _, err := states.GetPreloadedReadonlyRamDb("unregistered.db"); !errors.Is(err, ErrNeverStarted) {
		t.Fatalf("expected ErrNeverStarted, got %v", err)
	}
}

func TestSecondRetrievalFails(t *testing.T) {
	t.Parallel()

	path := writeDb(t, "user.db", "key=s:cfg\n")
	states := NewStates()
	states.StartPreloadingDb(path, RamDbLoader(logger.Discard()))

	if _, err := states.GetPreloadedRamDb(path); err != nil {
		t.Fatalf("first retrieval: %v", err)
	}
	if _, err := states.GetPreloadedRamDb(path); !errors.Is(err, ErrConsumed) {
		t.Fatalf("expected ErrConsumed on second retrieval, got %v", err)
	}
}

func TestKindMismatch(t *testing.T) {
	t.Parallel()

	path := writeDb(t, "system.db", "key=s:cfg\n")
	states := NewStates()
	states.StartPreloadingDb(path, ReadonlyRamDbLoader(logger.Discard()))

	if _, err := states.GetPreloadedRamDb(path); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
}

func TestLoaderErrorSurfacesOnRetrieval(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("disk on fire")
	states := NewStates()
	states.StartPreloadingDb("bad.db", func(path string) (Db, error) {
		return Db{}, wantErr
	})

	if _, err := states.GetPreloadedRamDb("bad.db"); !errors.Is(err, wantErr) {
		t.Fatalf("expected loader error, got %v", err)
	}
}

func TestRegistrationDoesNotBlockOnSlowLoad(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	slow := func(path string) (Db, error) {
		<-release
		return Db{Ram: perfdb.NewRamDB(path, logger.Discard())}, nil
	}
	fast := func(path string) (Db, error) {
		return Db{Ram: perfdb.NewRamDB(path, logger.Discard())}, nil
	}

	states := NewStates()
	states.StartPreloadingDb("slow.db", slow)
	// Registering and retrieving another path must not wait for slow.db.
	states.StartPreloadingDb("fast.db", fast)
	if _, err := states.GetPreloadedRamDb("fast.db"); err != nil {
		t.Fatalf("fast retrieval blocked or failed: %v", err)
	}

	close(release)
	if _, err := states.GetPreloadedRamDb("slow.db"); err != nil {
		t.Fatalf("slow retrieval: %v", err)
	}
}
