package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rvhonorato/orchestrator/internal/db"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.New(db.Config{Driver: "sqlite", DSN: ":memory:", Logger: zap.NewNop()})
	require.NoError(t, err)
	return database
}

func seedJob(t *testing.T, database *gorm.DB, userID int64, service string, status db.Status) *db.Job {
	t.Helper()
	job := &db.Job{UserID: userID, Service: service, Status: status, Loc: "/tmp/" + service}
	require.NoError(t, database.Create(job).Error)
	return job
}

func TestCreateAssignsID(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()

	job := &db.Job{UserID: 1, Service: "a", Status: db.StatusUnknown, Loc: "/tmp/a"}
	require.NoError(t, repo.Create(ctx, job))
	assert.Equal(t, int64(1), job.ID)

	second := &db.Job{UserID: 1, Service: "a", Status: db.StatusUnknown, Loc: "/tmp/b"}
	require.NoError(t, repo.Create(ctx, second))
	assert.Equal(t, int64(2), second.ID)
}

func TestGetByIDNotFound(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))

	_, err := repo.GetByID(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusAndDestID(t *testing.T) {
	database := newTestDB(t)
	repo := NewJobRepository(database)
	ctx := context.Background()

	job := seedJob(t, database, 1, "a", db.StatusQueued)

	require.NoError(t, repo.UpdateStatus(ctx, job.ID, db.StatusProcessing))
	require.NoError(t, repo.UpdateDestID(ctx, job.ID, "dest-42"))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusProcessing, got.Status)
	assert.Equal(t, "dest-42", got.DestID)
}

func TestUpdateStatusMissingRow(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	assert.ErrorIs(t, repo.UpdateStatus(context.Background(), 404, db.StatusFailed), ErrNotFound)
}

func TestGetByLoc(t *testing.T) {
	database := newTestDB(t)
	repo := NewJobRepository(database)
	ctx := context.Background()

	job := seedJob(t, database, 7, "svc", db.StatusCompleted)

	got, err := repo.GetByLoc(ctx, job.Loc)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = repo.GetByLoc(ctx, "/nowhere")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByStatus(t *testing.T) {
	database := newTestDB(t)
	repo := NewJobRepository(database)
	ctx := context.Background()

	seedJob(t, database, 1, "a", db.StatusSubmitted)
	seedJob(t, database, 1, "a", db.StatusQueued)
	seedJob(t, database, 2, "b", db.StatusSubmitted)

	submitted, err := repo.ListByStatus(ctx, db.StatusSubmitted)
	require.NoError(t, err)
	assert.Len(t, submitted, 2)
}

func TestAdmissionCeiling(t *testing.T) {
	// 5 submitted + 2 queued for (user=1, service=A) with a limit of 5:
	// nothing more may enter.
	database := newTestDB(t)
	repo := NewJobRepository(database)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedJob(t, database, 1, "A", db.StatusSubmitted)
	}
	for i := 0; i < 2; i++ {
		seedJob(t, database, 1, "A", db.StatusQueued)
	}

	admissible, err := repo.ListAdmissible(ctx, map[string]uint{"A": 5})
	require.NoError(t, err)
	assert.Empty(t, admissible)
}

func TestPartialAdmission(t *testing.T) {
	// 3 submitted + 3 queued with a limit of 5: exactly 2 slots remain.
	database := newTestDB(t)
	repo := NewJobRepository(database)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedJob(t, database, 1, "B", db.StatusSubmitted)
	}
	for i := 0; i < 3; i++ {
		seedJob(t, database, 1, "B", db.StatusQueued)
	}

	admissible, err := repo.ListAdmissible(ctx, map[string]uint{"B": 5})
	require.NoError(t, err)
	assert.Len(t, admissible, 2)
	for _, j := range admissible {
		assert.Equal(t, db.StatusQueued, j.Status)
	}
}

func TestMultiUserIsolation(t *testing.T) {
	// User 3 queues 3/4/2 jobs on services limited to 5/5/1: 3+4+1 admitted.
	database := newTestDB(t)
	repo := NewJobRepository(database)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedJob(t, database, 3, "A", db.StatusQueued)
	}
	for i := 0; i < 4; i++ {
		seedJob(t, database, 3, "B", db.StatusQueued)
	}
	for i := 0; i < 2; i++ {
		seedJob(t, database, 3, "C", db.StatusQueued)
	}

	admissible, err := repo.ListAdmissible(ctx, map[string]uint{"A": 5, "B": 5, "C": 1})
	require.NoError(t, err)
	assert.Len(t, admissible, 8)
}

func TestAdmissionCellsAreIndependent(t *testing.T) {
	database := newTestDB(t)
	repo := NewJobRepository(database)
	ctx := context.Background()

	// User 1 saturates service C (limit 1); user 2 has its own slot.
	seedJob(t, database, 1, "C", db.StatusQueued)
	seedJob(t, database, 1, "C", db.StatusQueued)
	seedJob(t, database, 2, "C", db.StatusQueued)
	seedJob(t, database, 2, "C", db.StatusQueued)

	admissible, err := repo.ListAdmissible(ctx, map[string]uint{"C": 1})
	require.NoError(t, err)
	require.Len(t, admissible, 2)
	users := map[int64]int{}
	for _, j := range admissible {
		users[j.UserID]++
	}
	assert.Equal(t, map[int64]int{1: 1, 2: 1}, users)
}

func TestAdmissionFIFOWithinCell(t *testing.T) {
	database := newTestDB(t)
	repo := NewJobRepository(database)
	ctx := context.Background()

	first := seedJob(t, database, 1, "A", db.StatusQueued)
	second := seedJob(t, database, 1, "A", db.StatusQueued)
	seedJob(t, database, 1, "A", db.StatusQueued)

	admissible, err := repo.ListAdmissible(ctx, map[string]uint{"A": 2})
	require.NoError(t, err)
	require.Len(t, admissible, 2)
	assert.Equal(t, first.ID, admissible[0].ID)
	assert.Equal(t, second.ID, admissible[1].ID)
}

func TestAdmissionZeroLimitAdmitsNothing(t *testing.T) {
	database := newTestDB(t)
	repo := NewJobRepository(database)
	ctx := context.Background()

	seedJob(t, database, 1, "A", db.StatusQueued)

	admissible, err := repo.ListAdmissible(ctx, map[string]uint{"A": 0})
	require.NoError(t, err)
	assert.Empty(t, admissible)
}

func TestAdmissionUnknownServiceAdmitsNothing(t *testing.T) {
	database := newTestDB(t)
	repo := NewJobRepository(database)
	ctx := context.Background()

	seedJob(t, database, 1, "ghost", db.StatusQueued)

	admissible, err := repo.ListAdmissible(ctx, map[string]uint{"A": 5})
	require.NoError(t, err)
	assert.Empty(t, admissible)
}

func TestRequeueProcessing(t *testing.T) {
	database := newTestDB(t)
	repo := NewJobRepository(database)
	ctx := context.Background()

	stranded := seedJob(t, database, 1, "A", db.StatusProcessing)
	untouched := seedJob(t, database, 1, "A", db.StatusSubmitted)

	n, err := repo.RequeueProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByID(ctx, stranded.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusQueued, got.Status)

	got, err = repo.GetByID(ctx, untouched.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusSubmitted, got.Status)
}
