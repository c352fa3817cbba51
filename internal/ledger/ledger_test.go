package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tachyon-beep/storyteller/internal/ledger"
	"github.com/tachyon-beep/storyteller/internal/services"
	"github.com/tachyon-beep/storyteller/internal/testsupport"
)

func openLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.OpenPath(filepath.Join(t.TempDir(), ledger.FileName))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	clock := testsupport.FixedNow
	l.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return l
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)

	id, err := l.StartRun(ctx, ledger.RunStart{BatchName: "tale", BatchID: 1, Folder: "tale_1", Strategy: "default", TotalPhases: 3})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run, err := l.Run(ctx, id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != ledger.StatusRunning || run.Duration() != 0 {
		t.Fatalf("fresh run = %+v", run)
	}

	if err := l.RecordPhase(ctx, ledger.Phase{RunID: id, Stage: "concept", Phase: "premise", Plugin: "json", Repaired: true, Duration: 1500 * time.Millisecond}); err != nil {
		t.Fatalf("RecordPhase: %v", err)
	}
	failure := services.Wrap(services.ErrProcessing, "concept", "process", "still invalid", nil)
	if err := l.RecordPhase(ctx, ledger.Phase{RunID: id, Stage: "concept", Phase: "outline", Plugin: "text", Retries: 3,
		ErrorKind: services.Kind(failure), ErrorMessage: failure.Error()}); err != nil {
		t.Fatalf("RecordPhase: %v", err)
	}
	if err := l.FinishRun(ctx, id, 1, 3, failure); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, err = l.Run(ctx, id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != ledger.StatusFailed || run.ErrorKind != "processing" || run.CompletedPhases != 1 || run.TotalPhases != 3 {
		t.Fatalf("finished run = %+v", run)
	}
	if run.Duration() <= 0 {
		t.Fatalf("expected positive duration, got %v", run.Duration())
	}

	phases, err := l.Phases(ctx, id)
	if err != nil {
		t.Fatalf("Phases: %v", err)
	}
	if len(phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(phases))
	}
	if phases[0].Status != ledger.StatusCompleted || !phases[0].Repaired || phases[0].Duration != 1500*time.Millisecond {
		t.Fatalf("first phase = %+v", phases[0])
	}
	if phases[1].Status != ledger.StatusFailed || phases[1].Retries != 3 || phases[1].ErrorKind != "processing" {
		t.Fatalf("second phase = %+v", phases[1])
	}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)

	var ids []string
	for i := 1; i <= 3; i++ {
		id, err := l.StartRun(ctx, ledger.RunStart{BatchName: "tale", BatchID: i})
		if err != nil {
			t.Fatalf("StartRun: %v", err)
		}
		ids = append(ids, id)
	}
	if err := l.FinishRun(ctx, ids[0], 2, 2, nil); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := l.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Fatalf("unexpected order: %+v", runs)
	}

	all, err := l.RecentRuns(ctx, 0)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(all) != 3 || all[2].Status != ledger.StatusCompleted {
		t.Fatalf("unexpected runs: %+v", all)
	}
}

func TestUnknownRun(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)

	if _, err := l.Run(ctx, "missing"); !errors.Is(err, ledger.ErrRunNotFound) {
		t.Fatalf("Run: expected ErrRunNotFound, got %v", err)
	}
	if err := l.FinishRun(ctx, "missing", 0, 0, nil); !errors.Is(err, ledger.ErrRunNotFound) {
		t.Fatalf("FinishRun: expected ErrRunNotFound, got %v", err)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)

	l, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := l.StartRun(ctx, ledger.RunStart{BatchName: "tale", BatchID: 1})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l, err = ledger.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()
	if l.Path() != filepath.Join(cfg.Paths.LogDir, ledger.FileName) {
		t.Fatalf("unexpected path %q", l.Path())
	}
	if _, err := l.Run(ctx, id); err != nil {
		t.Fatalf("Run after reopen: %v", err)
	}
}
