package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"riskrun/internal/models"

	"github.com/google/uuid"
)

// testRepo connects to the database named by TEST_DATABASE_URL and runs the
// schema. Tests that need it are skipped when the variable is unset.
func testRepo(t *testing.T) *Repository {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	repo, err := NewRepository(dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(repo.Close)
	if err := repo.Migrate("../../schema.sql"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func seedTask(t *testing.T, repo *Repository, maxAttempts int) (runID string) {
	t.Helper()
	ctx := context.Background()
	runID = "run-" + uuid.NewString()[:8]

	run := &models.Run{
		RunID:            runID,
		MarketSnapshotID: "eod-test",
		Measures:         []string{models.MeasurePV},
		Scenarios:        []string{models.ScenarioBase},
		HashMod:          1,
		Status:           models.RunCreated,
		PayloadHash:      "hash-" + runID,
	}
	if _, err := repo.UpsertRun(ctx, run); err != nil {
		t.Fatalf("upsert run: %v", err)
	}
	err := repo.InsertTasks(ctx, []models.Task{{
		RunID:       runID,
		ProductType: "FIXED_BOND",
		HashBucket:  0,
		State:       models.TaskQueued,
		MaxAttempts: maxAttempts,
		Payload: models.TaskPayload{
			MarketSnapshotID: "eod-test",
			PositionIDs:      []string{"POS-1"},
			Measures:         []string{models.MeasurePV},
			Scenarios:        []string{models.ScenarioBase},
		},
	}})
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}

	t.Cleanup(func() {
		_, _ = repo.db.Exec(context.Background(), `DELETE FROM valuation_result WHERE run_id = $1`, runID)
		_, _ = repo.db.Exec(context.Background(), `DELETE FROM run_task WHERE run_id = $1`, runID)
		_, _ = repo.db.Exec(context.Background(), `DELETE FROM run WHERE run_id = $1`, runID)
	})
	return runID
}

// claimForRun claims widely and filters to the test's run so tests stay
// independent of other rows in a shared database.
func claimForRun(t *testing.T, repo *Repository, runID, workerID string, leaseSeconds int) []models.Task {
	t.Helper()
	claimed, err := repo.ClaimTasks(context.Background(), workerID, 50, leaseSeconds)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	var mine []models.Task
	for _, task := range claimed {
		if task.RunID == runID {
			mine = append(mine, task)
		}
	}
	return mine
}

func TestClaimReclaimBoundedByMaxAttempts(t *testing.T) {
	repo := testRepo(t)
	runID := seedTask(t, repo, 2)

	// A negative lease expires immediately, simulating a crashed worker.
	first := claimForRun(t, repo, runID, "w-crash", -1)
	if len(first) != 1 || first[0].Attempts != 1 {
		t.Fatalf("first claim = %+v, want one task with attempts=1", first)
	}

	second := claimForRun(t, repo, runID, "w-crash", -1)
	if len(second) != 1 || second[0].Attempts != 2 {
		t.Fatalf("second claim = %+v, want one task with attempts=2", second)
	}

	// Attempts are exhausted: the expired lease must not be reclaimable.
	third := claimForRun(t, repo, runID, "w-crash", -1)
	if len(third) != 0 {
		t.Fatalf("third claim leased %+v, want nothing: attempts must never exceed max_attempts", third)
	}

	// The reaper, not the claim path, dead-letters it.
	if _, err := repo.ReapExpiredLeases(context.Background()); err != nil {
		t.Fatalf("reap: %v", err)
	}
	counts, err := repo.TaskStateCounts(context.Background(), runID)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[models.TaskDead] != 1 {
		t.Fatalf("task states = %v, want one DEAD task after reap", counts)
	}
}

func TestCompleteTaskRequiresLiveLease(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	runID := seedTask(t, repo, 3)

	claimed := claimForRun(t, repo, runID, "w-one", 60)
	if len(claimed) != 1 {
		t.Fatalf("claim = %+v, want one task", claimed)
	}
	task := claimed[0]

	results := []models.ValuationResult{{
		RunID:       runID,
		PositionID:  "POS-1",
		ScenarioID:  models.ScenarioBase,
		ProductType: "FIXED_BOND",
		Measures:    map[string]float64{models.MeasurePV: 1_000_000},
		InputHash:   "ih-1",
	}}
	if err := repo.CompleteTask(ctx, task.ID, "w-one", results); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// The task is DONE; a stale worker's second commit must be rejected.
	err := repo.CompleteTask(ctx, task.ID, "w-one", results)
	if !errors.Is(err, models.ErrLeaseLost) {
		t.Fatalf("second complete = %v, want ErrLeaseLost", err)
	}

	counts, err := repo.TaskStateCounts(ctx, runID)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[models.TaskDone] != 1 {
		t.Fatalf("task states = %v, want one DONE task", counts)
	}
}

func TestReleaseTaskReturnsAttempt(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	runID := seedTask(t, repo, 3)

	claimed := claimForRun(t, repo, runID, "w-one", 60)
	if len(claimed) != 1 || claimed[0].Attempts != 1 {
		t.Fatalf("claim = %+v, want one task with attempts=1", claimed)
	}

	if err := repo.ReleaseTask(ctx, claimed[0].ID, "w-one", "store blip"); err != nil {
		t.Fatalf("release: %v", err)
	}

	tasks, err := repo.ListRunTasks(ctx, runID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks = %+v, want one", tasks)
	}
	if tasks[0].State != models.TaskQueued || tasks[0].Attempts != 0 {
		t.Fatalf("released task = state %s attempts %d, want QUEUED with attempts=0",
			tasks[0].State, tasks[0].Attempts)
	}
}
