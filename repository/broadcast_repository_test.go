package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/astro-dispatch/models"
	"github.com/amirphl/astro-dispatch/repository"
	testingutil "github.com/amirphl/astro-dispatch/testing"
	"github.com/amirphl/astro-dispatch/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withDB(t *testing.T, fn func(t *testing.T, db *testingutil.TestDB)) {
	t.Helper()
	err := testingutil.TestWithDB(func(db *testingutil.TestDB) error {
		fn(t, db)
		return nil
	})
	if errors.Is(err, testingutil.ErrNoTestDatabase) {
		t.Skip("TEST_DB_HOST not set")
	}
	require.NoError(t, err)
}

func TestBroadcastJobRepository(t *testing.T) {
	withDB(t, func(t *testing.T, db *testingutil.TestDB) {
		ctx := context.Background()
		jobs := repository.NewBroadcastJobRepository(db.DB)
		recipients := repository.NewBroadcastRecipientRepository(db.DB)

		t.Run("SaveWithRecipients", func(t *testing.T) {
			job := testingutil.NewJob("hello", "1", "2", "3")
			require.NoError(t, jobs.Save(ctx, job))
			assert.NotZero(t, job.ID)
			assert.Equal(t, 3, job.Total)

			stored, err := jobs.ByUUID(ctx, job.UUID)
			require.NoError(t, err)
			require.NotNil(t, stored)
			assert.Equal(t, models.BroadcastJobStatusQueued, stored.Status)

			counts, err := recipients.CountByStatus(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.RecipientCounts{Pending: 3}, counts)
		})

		t.Run("ByIDMissing", func(t *testing.T) {
			job, err := jobs.ByID(ctx, 999999)
			require.NoError(t, err)
			assert.Nil(t, job)
		})

		t.Run("ClaimIsExclusiveWithinWindow", func(t *testing.T) {
			require.NoError(t, db.ClearAllTables())
			job := testingutil.NewJob("claim", "1")
			require.NoError(t, jobs.Save(ctx, job))

			now := utils.UTCNow()
			ok, err := jobs.Claim(ctx, job.ID, now, 2*time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = jobs.Claim(ctx, job.ID, now.Add(time.Minute), 2*time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "live lease must block a second claim")

			takeover := now.Add(3 * time.Minute)
			ok, err = jobs.Claim(ctx, job.ID, takeover, 2*time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "expired lease can be taken over")

			released, err := jobs.ReleaseClaim(ctx, job.ID, now)
			require.NoError(t, err)
			assert.False(t, released, "the expired drive must not clear the new lease")
			ok, err = jobs.Claim(ctx, job.ID, takeover.Add(time.Second), 2*time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			released, err = jobs.ReleaseClaim(ctx, job.ID, takeover)
			require.NoError(t, err)
			assert.True(t, released)
			ok, err = jobs.Claim(ctx, job.ID, takeover, 2*time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			stored, err := jobs.ByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.BroadcastJobStatusRunning, stored.Status)
			require.NotNil(t, stored.StartedAt)
			assert.WithinDuration(t, now, *stored.StartedAt, time.Second)
		})

		t.Run("ResumeKeepsLiveLease", func(t *testing.T) {
			require.NoError(t, db.ClearAllTables())
			job := testingutil.NewJob("resume", "1")
			require.NoError(t, jobs.Save(ctx, job))
			now := utils.UTCNow()

			ok, err := jobs.Claim(ctx, job.ID, now, 2*time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			moved, err := jobs.TransitionStatus(ctx, job.ID, []models.BroadcastJobStatus{models.BroadcastJobStatusRunning}, models.BroadcastJobStatusPaused, now)
			require.NoError(t, err)
			require.True(t, moved)
			moved, err = jobs.TransitionStatus(ctx, job.ID, []models.BroadcastJobStatus{models.BroadcastJobStatusPaused}, models.BroadcastJobStatusRunning, now)
			require.NoError(t, err)
			require.True(t, moved)

			ok, err = jobs.Claim(ctx, job.ID, now.Add(time.Second), 2*time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "resume must not hand an in-flight job to another drive")
		})

		t.Run("TransitionRefusesIllegalStep", func(t *testing.T) {
			require.NoError(t, db.ClearAllTables())
			job := testingutil.NewJob("illegal", "1")
			require.NoError(t, jobs.Save(ctx, job))

			moved, err := jobs.TransitionStatus(ctx, job.ID, []models.BroadcastJobStatus{models.BroadcastJobStatusQueued}, models.BroadcastJobStatusDone, utils.UTCNow())
			require.NoError(t, err)
			assert.False(t, moved, "queued never jumps to done")

			stored, err := jobs.ByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.BroadcastJobStatusQueued, stored.Status)
		})

		t.Run("ClaimRefusesNonActionable", func(t *testing.T) {
			require.NoError(t, db.ClearAllTables())
			job := testingutil.NewJob("x", "1")
			require.NoError(t, jobs.Save(ctx, job))
			now := utils.UTCNow()

			moved, err := jobs.TransitionStatus(ctx, job.ID, []models.BroadcastJobStatus{models.BroadcastJobStatusQueued}, models.BroadcastJobStatusCancelled, now)
			require.NoError(t, err)
			assert.True(t, moved)

			ok, err := jobs.Claim(ctx, job.ID, now, time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			moved, err = jobs.TransitionStatus(ctx, job.ID, []models.BroadcastJobStatus{models.BroadcastJobStatusPaused}, models.BroadcastJobStatusRunning, now)
			require.NoError(t, err)
			assert.False(t, moved)
		})

		t.Run("RecipientUpdatesAndFinalize", func(t *testing.T) {
			require.NoError(t, db.ClearAllTables())
			job := testingutil.NewJob("fin", "1", "2")
			require.NoError(t, jobs.Save(ctx, job))
			now := utils.UTCNow()
			_, err := jobs.Claim(ctx, job.ID, now, time.Minute)
			require.NoError(t, err)

			pending, err := recipients.ListPending(ctx, job.ID, 50)
			require.NoError(t, err)
			require.Len(t, pending, 2)
			assert.Less(t, pending[0].ID, pending[1].ID)

			tx := repository.NewTransactor(db.DB)
			require.NoError(t, tx.WithTransaction(ctx, func(ctx context.Context) error {
				ok, err := recipients.MarkSent(ctx, pending[0].ID, utils.ToPtr(int64(77)), now)
				require.True(t, ok)
				if err != nil {
					return err
				}
				return jobs.ApplyDelta(ctx, job.ID, 1, 0)
			}))

			ok, err := recipients.MarkFailed(ctx, pending[0].ID, "late", now)
			require.NoError(t, err)
			assert.False(t, ok, "sent recipient never goes back")

			ok, err = recipients.MarkFailed(ctx, pending[1].ID, "Forbidden: bot was blocked by the user", now)
			require.NoError(t, err)
			assert.True(t, ok)

			counts, err := recipients.CountByStatus(ctx, job.ID)
			require.NoError(t, err)
			done, err := jobs.Finalize(ctx, job.ID, counts, now)
			require.NoError(t, err)
			assert.True(t, done)

			stored, err := jobs.ByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.BroadcastJobStatusDone, stored.Status)
			assert.Equal(t, 1, stored.Sent)
			assert.Equal(t, 1, stored.Failed)
			assert.NotNil(t, stored.FinishedAt)
			assert.Nil(t, stored.ClaimedAt)
		})

		t.Run("ListIDsAndDelete", func(t *testing.T) {
			require.NoError(t, db.ClearAllTables())
			fx := testingutil.NewTestFixtures(db)
			old, err := fx.CreateTestJob("old", "1")
			require.NoError(t, err)
			fresh, err := fx.CreateTestJob("fresh", "2")
			require.NoError(t, err)
			require.NoError(t, fx.AgeJob(old.ID, 40*24*time.Hour))

			cutoff := utils.DaysAgo(utils.UTCNow(), 30)
			ids, err := jobs.ListIDs(ctx, []models.BroadcastJobStatus{models.BroadcastJobStatusQueued}, &cutoff)
			require.NoError(t, err)
			assert.Equal(t, []uint{old.ID}, ids)

			deleted, err := jobs.DeleteWithRecipients(ctx, old.ID)
			require.NoError(t, err)
			assert.True(t, deleted)

			count, err := recipients.Count(ctx, models.BroadcastRecipientFilter{JobID: &old.ID})
			require.NoError(t, err)
			assert.Zero(t, count)

			next, err := jobs.NextActionable(ctx)
			require.NoError(t, err)
			require.NotNil(t, next)
			assert.Equal(t, fresh.ID, next.ID)
		})
	})
}

func TestSubscriberRepository(t *testing.T) {
	withDB(t, func(t *testing.T, db *testingutil.TestDB) {
		ctx := context.Background()
		repo := repository.NewSubscriberRepository(db.DB)
		fx := testingutil.NewTestFixtures(db)

		_, err := fx.CreateTestSubscriber("100", models.ZodiacLeo)
		require.NoError(t, err)
		_, err = fx.CreateTestSubscriber("200", models.ZodiacPisces)
		require.NoError(t, err)
		blocked := testingutil.NewSubscriber("300", models.ZodiacLeo)
		blocked.IsBlocked = utils.ToPtr(true)
		require.NoError(t, repo.Save(ctx, blocked))

		filter := models.SubscriberFilterFromAudience(models.AudienceFilter{ZodiacSigns: []string{"Leo"}})
		rows, err := repo.ByFilter(ctx, filter, "id ASC", 0, 0)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "100", rows[0].ChatID)

		count, err := repo.Count(ctx, models.SubscriberFilterFromAudience(models.AudienceFilter{ZodiacSigns: []string{"leo"}, IncludeInactive: true}))
		require.NoError(t, err)
		assert.EqualValues(t, 2, count)

		sub, err := repo.ByChatID(ctx, "200")
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, models.ZodiacPisces, *sub.ZodiacSign)
	})
}
