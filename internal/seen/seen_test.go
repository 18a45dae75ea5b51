package seen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juanjortega/openhimtoFhirproxy/internal/testutil"
)

// failingBackend rejects every write to prove flush failures never undo
// an in-memory admission.
type failingBackend struct {
	mu      sync.Mutex
	appends int
}

func (b *failingBackend) Name() string { return "failing" }

func (b *failingBackend) Load(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (b *failingBackend) Append(ctx context.Context, id string, snapshot []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appends++
	return errors.New("disk full")
}

func (b *failingBackend) Save(ctx context.Context, snapshot []string) error {
	return errors.New("disk full")
}

func TestAdmitFirstTimeOnly(t *testing.T) {
	ctx := testutil.TestContext(t)
	set := NewSet(NewFileBackend(testutil.SeenFile(t)), nil)

	if !set.Admit(ctx, "enc-1") {
		t.Fatal("first Admit should return true")
	}
	if set.Admit(ctx, "enc-1") {
		t.Fatal("second Admit should return false")
	}
	if !set.IsSeen("enc-1") {
		t.Fatal("id should be seen after Admit")
	}
	if set.IsSeen("enc-2") {
		t.Fatal("unadmitted id should not be seen")
	}
}

func TestMarkSeenIdempotent(t *testing.T) {
	set := NewSet(NewFileBackend(testutil.SeenFile(t)), nil)

	set.MarkSeen("enc-1")
	set.MarkSeen("enc-1")

	if set.Len() != 1 {
		t.Fatalf("expected 1 id, got %d", set.Len())
	}
}

func TestConcurrentAdmitSingleWinner(t *testing.T) {
	ctx := testutil.TestContext(t)
	set := NewSet(NewFileBackend(testutil.SeenFile(t)), nil)

	const goroutines = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if set.Admit(ctx, "enc-race") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", admitted)
	}
}

// stallingBackend delays the flush of one chosen id, so a concurrent
// admission of another id finishes its own flush first.
type stallingBackend struct {
	inner   Backend
	stallID string
	delay   time.Duration
}

func (b *stallingBackend) Load(ctx context.Context) ([]string, error) {
	return b.inner.Load(ctx)
}

func (b *stallingBackend) Append(ctx context.Context, id string, snapshot []string) error {
	if id == b.stallID {
		time.Sleep(b.delay)
	}
	return b.inner.Append(ctx, id, snapshot)
}

func (b *stallingBackend) Save(ctx context.Context, snapshot []string) error {
	return b.inner.Save(ctx, snapshot)
}

func TestConcurrentAdmitsNeverLoseAPersistedID(t *testing.T) {
	ctx := testutil.TestContext(t)
	path := testutil.SeenFile(t)
	backend := &stallingBackend{
		inner:   NewFileBackend(path),
		stallID: "enc-A",
		delay:   50 * time.Millisecond,
	}
	set := NewSet(backend, nil)

	var wg sync.WaitGroup
	for _, id := range []string{"enc-A", "enc-B"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if !set.Admit(ctx, id) {
				t.Errorf("Admit(%s) should succeed", id)
			}
		}(id)
	}
	wg.Wait()

	// Whichever flush ran last must still carry both admissions.
	persisted, err := NewFileBackend(path).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]bool, len(persisted))
	for _, id := range persisted {
		got[id] = true
	}
	if !got["enc-A"] || !got["enc-B"] {
		t.Fatalf("persisted store lost an admitted id: final snapshot %v", persisted)
	}
}

func TestRestartDurability(t *testing.T) {
	ctx := testutil.TestContext(t)
	path := testutil.SeenFile(t)

	first := NewSet(NewFileBackend(path), nil)
	first.Load(ctx)
	if !first.Admit(ctx, "enc-1") {
		t.Fatal("first Admit should succeed")
	}

	// Fresh process instance over the same store.
	second := NewSet(NewFileBackend(path), nil)
	second.Load(ctx)
	if second.Admit(ctx, "enc-1") {
		t.Fatal("restarted instance should treat persisted id as duplicate")
	}
	if !second.IsSeen("enc-1") {
		t.Fatal("persisted id should be seen after reload")
	}
}

func TestLoadMissingStoreIsEmpty(t *testing.T) {
	ctx := testutil.TestContext(t)
	set := NewSet(NewFileBackend(filepath.Join(t.TempDir(), "does-not-exist.json")), nil)

	set.Load(ctx)
	if set.Len() != 0 {
		t.Fatalf("expected empty set, got %d ids", set.Len())
	}
}

func TestLoadCorruptStoreFailsOpen(t *testing.T) {
	ctx := testutil.TestContext(t)
	path := testutil.SeenFile(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	set := NewSet(NewFileBackend(path), nil)
	set.Load(ctx)

	if set.Len() != 0 {
		t.Fatalf("corrupt store should load as empty, got %d ids", set.Len())
	}
	// The set must still be usable.
	if !set.Admit(ctx, "enc-1") {
		t.Fatal("Admit should work after corrupt load")
	}
}

func TestFlushFailureDoesNotUndoAdmission(t *testing.T) {
	ctx := testutil.TestContext(t)
	backend := &failingBackend{}
	set := NewSet(backend, nil)

	if !set.Admit(ctx, "enc-1") {
		t.Fatal("Admit should succeed despite flush failure")
	}
	if set.Admit(ctx, "enc-1") {
		t.Fatal("duplicate should still be rejected in memory")
	}
	if backend.appends != 1 {
		t.Fatalf("expected 1 append attempt, got %d", backend.appends)
	}

	if err := set.Persist(ctx); err == nil {
		t.Fatal("Persist should surface the storage error")
	}
}

func TestFileBackendRewritesAtomically(t *testing.T) {
	ctx := testutil.TestContext(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "seen.json")
	backend := NewFileBackend(path)

	if err := backend.Save(ctx, []string{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}

	ids, err := backend.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the store file in %s, found %d entries", dir, len(entries))
	}
}
