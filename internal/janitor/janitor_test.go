package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

// fakeLister отдаёт заготовленный список завершённых запросов.
type fakeLister struct {
	ids    []uuid.UUID
	cutoff time.Time
	limit  int
}

func (f *fakeLister) ListFinishedBefore(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	f.cutoff = cutoff
	f.limit = limit
	return f.ids, nil
}

func writeLog(t *testing.T, dir string, id uuid.UUID) string {
	t.Helper()
	path := filepath.Join(dir, id.String()+".log")
	if err := os.WriteFile(path, []byte("build started\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestSweep_RemovesExpiredLogs(t *testing.T) {
	dir := t.TempDir()

	expired1 := uuid.New()
	expired2 := uuid.New()
	alive := uuid.New()

	path1 := writeLog(t, dir, expired1)
	path2 := writeLog(t, dir, expired2)
	alivePath := writeLog(t, dir, alive)

	lister := &fakeLister{ids: []uuid.UUID{expired1, expired2}}

	j, err := New(Config{
		Requests: lister,
		Schedule: "0 3 * * *",
		LogsDir:  dir,
		Lifetime: 7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := j.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	for _, path := range []string{path1, path2} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("expected %s to be removed", path)
		}
	}

	// Не попавшие в выборку логи не трогаются
	if _, err := os.Stat(alivePath); err != nil {
		t.Errorf("log of a live request should survive: %v", err)
	}

	// cutoff = now - lifetime
	wantCutoff := time.Now().Add(-7 * 24 * time.Hour)
	if diff := lister.cutoff.Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("unexpected cutoff %v", lister.cutoff)
	}
}

func TestSweep_MissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()

	// Запрос без файла лога: воркер работал без каталога логов
	// или файл удалён предыдущим проходом
	lister := &fakeLister{ids: []uuid.UUID{uuid.New()}}

	j, err := New(Config{
		Requests: lister,
		Schedule: "*/5 * * * *",
		LogsDir:  dir,
		Lifetime: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := j.Sweep(context.Background()); err != nil {
		t.Errorf("missing file should not fail the sweep: %v", err)
	}
}

func TestSweep_EmptyBatch(t *testing.T) {
	j, err := New(Config{
		Requests: &fakeLister{},
		Schedule: "0 * * * *",
		LogsDir:  t.TempDir(),
		Lifetime: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := j.Sweep(context.Background()); err != nil {
		t.Errorf("empty batch should not fail: %v", err)
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(Config{
		Requests: &fakeLister{},
		Schedule: "not a cron expr",
		LogsDir:  t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestNew_DefaultBatchSize(t *testing.T) {
	j, err := New(Config{
		Requests: &fakeLister{},
		Schedule: "0 3 * * *",
		LogsDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.batchSize != defaultBatchSize {
		t.Errorf("expected default batch size %d, got %d", defaultBatchSize, j.batchSize)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	j, err := New(Config{
		Requests: &fakeLister{},
		Schedule: "0 3 * * *",
		LogsDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := j.Run(ctx); err == nil {
		t.Error("expected context error")
	}
}
