package progress

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"lessonpulse/apperrors"
	"lessonpulse/database/dbtest"
	courseModels "lessonpulse/models/course"
	"lessonpulse/services/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testUser uint = 42

type trackerEnv struct {
	db      *gorm.DB
	tracker *Tracker
	fixture dbtest.Fixture
	clock   *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTrackerEnv(t *testing.T, opts ...TrackerOption) *trackerEnv {
	t.Helper()

	db := dbtest.New(t)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	opts = append([]TrackerOption{WithClock(clock.Now)}, opts...)
	return &trackerEnv{
		db:      db,
		tracker: NewTracker(db, catalog.New(db), opts...),
		fixture: dbtest.SeedCourse(t, db, "Go Concurrency"),
		clock:   clock,
	}
}

func (e *trackerEnv) heartbeat(t *testing.T, lessonID uint, position, duration float64) Snapshot {
	t.Helper()
	snap, err := e.tracker.UpdateProgress(context.Background(), testUser, lessonID, Heartbeat{Position: position, Duration: duration})
	require.NoError(t, err)
	return snap
}

func TestUpdateProgress_CompletionSequence(t *testing.T) {
	env := newTrackerEnv(t)
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 120)

	positions := []float64{0, 10, 30, 60, 90, 108}
	wantPct := []int{0, 8, 25, 50, 75, 90}
	wantDone := []bool{false, false, false, false, false, true}

	for i, pos := range positions {
		snap := env.heartbeat(t, lesson.ID, pos, 120)
		assert.Equal(t, wantPct[i], snap.CompletionPercentage, "position %v", pos)
		assert.Equal(t, wantDone[i], snap.IsCompleted, "position %v", pos)
		assert.Equal(t, int64(pos), snap.WatchedSeconds)
	}

	snap, err := env.tracker.GetProgress(context.Background(), testUser, lesson.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.CompletedAt)
	assert.True(t, snap.CompletedAt.Equal(env.clock.Now()))
	assert.Equal(t, StateCompleted, snap.State)
}

func TestUpdateProgress_BackwardSeek(t *testing.T) {
	env := newTrackerEnv(t)
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 100)

	steps := []struct {
		position    float64
		wantWatched int64
	}{
		{50, 50},
		{20, 50},
		{30, 60},
	}
	for _, s := range steps {
		snap := env.heartbeat(t, lesson.ID, s.position, 100)
		assert.Equal(t, s.wantWatched, snap.WatchedSeconds)
		assert.Equal(t, s.position, snap.LastPosition, "last position always follows the latest report")
	}
}

func TestUpdateProgress_RepeatedHeartbeatIsIdempotent(t *testing.T) {
	env := newTrackerEnv(t)
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 600)

	first := env.heartbeat(t, lesson.ID, 30, 600)
	second := env.heartbeat(t, lesson.ID, 30, 600)
	assert.Equal(t, int64(30), first.WatchedSeconds)
	assert.Equal(t, int64(30), second.WatchedSeconds)
	assert.Equal(t, first.CompletionPercentage, second.CompletionPercentage)
}

func TestUpdateProgress_MonotonicSumOfPositiveDeltas(t *testing.T) {
	env := newTrackerEnv(t)
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 1000)

	positions := []float64{5, 5, 17, 40, 40, 41, 90, 250}
	var prev int64
	for _, pos := range positions {
		snap := env.heartbeat(t, lesson.ID, pos, 1000)
		require.GreaterOrEqual(t, snap.WatchedSeconds, prev)
		prev = snap.WatchedSeconds
	}
	assert.Equal(t, int64(250), prev)
}

func TestUpdateProgress_FractionalStepsTrackDistancePlayed(t *testing.T) {
	for _, step := range []float64{0.25, 0.4, 0.5, 1.5} {
		t.Run(fmt.Sprintf("step %v", step), func(t *testing.T) {
			env := newTrackerEnv(t)
			lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 100)

			var snap Snapshot
			for i := 1; float64(i)*step <= 50; i++ {
				snap = env.heartbeat(t, lesson.ID, float64(i)*step, 100)
			}

			assert.InDelta(t, 50, float64(snap.WatchedSeconds), 1)
			assert.InDelta(t, 50, float64(snap.CompletionPercentage), 1)
			assert.False(t, snap.IsCompleted)
			assert.Nil(t, snap.CompletedAt)
		})
	}
}

func TestUpdateProgress_CompletionIsSticky(t *testing.T) {
	hooks := &hookRecorder{}
	runner := NewHookRunner(hooks.Hooks())
	env := newTrackerEnv(t, WithHooks(runner))
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 100)

	done := env.heartbeat(t, lesson.ID, 95, 100)
	require.True(t, done.IsCompleted)
	completedAt := *done.CompletedAt

	env.clock.Advance(time.Hour)
	for _, pos := range []float64{0, 10, 5, 99, 100} {
		snap := env.heartbeat(t, lesson.ID, pos, 100)
		assert.True(t, snap.IsCompleted)
		assert.Equal(t, StateCompleted, snap.State)
		require.NotNil(t, snap.CompletedAt)
		assert.True(t, completedAt.Equal(*snap.CompletedAt), "completedAt must never move")
	}

	runner.Wait()
	assert.Equal(t, []uint{lesson.ID}, hooks.lessons(), "hook fires once per transition")
}

func TestUpdateProgress_PercentageCapsAt100(t *testing.T) {
	env := newTrackerEnv(t)
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 60)

	snap := env.heartbeat(t, lesson.ID, 75, 60)
	assert.Equal(t, 100, snap.CompletionPercentage)
	assert.Equal(t, int64(75), snap.WatchedSeconds)
}

func TestUpdateProgress_UsesCatalogDuration(t *testing.T) {
	env := newTrackerEnv(t)
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 200)

	// a client claiming a 20s duration cannot complete a 200s lesson early
	snap := env.heartbeat(t, lesson.ID, 20, 20)
	assert.Equal(t, 10, snap.CompletionPercentage)
	assert.False(t, snap.IsCompleted)
}

func TestUpdateProgress_FallsBackToReportedDuration(t *testing.T) {
	env := newTrackerEnv(t)
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 0)

	snap := env.heartbeat(t, lesson.ID, 45, 50)
	assert.Equal(t, 90, snap.CompletionPercentage)
	assert.True(t, snap.IsCompleted)
}

func TestUpdateProgress_ZeroDuration(t *testing.T) {
	env := newTrackerEnv(t)
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 0)

	snap := env.heartbeat(t, lesson.ID, 45, 0)
	assert.Equal(t, 0, snap.CompletionPercentage)
	assert.False(t, snap.IsCompleted)
	assert.Equal(t, StateInProgress, snap.State)
}

func TestUpdateProgress_States(t *testing.T) {
	env := newTrackerEnv(t)
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 100)

	snap, err := env.tracker.GetProgress(context.Background(), testUser, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, StateNotStarted, snap.State)

	assert.Equal(t, StateNotStarted, env.heartbeat(t, lesson.ID, 0, 100).State)
	assert.Equal(t, StateInProgress, env.heartbeat(t, lesson.ID, 3, 100).State)
	assert.Equal(t, StateCompleted, env.heartbeat(t, lesson.ID, 93, 100).State)
}

func TestUpdateProgress_CustomThreshold(t *testing.T) {
	env := newTrackerEnv(t, WithThreshold(50))
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 100)

	assert.False(t, env.heartbeat(t, lesson.ID, 49, 100).IsCompleted)
	assert.True(t, env.heartbeat(t, lesson.ID, 50, 100).IsCompleted)
}

func TestUpdateProgress_Errors(t *testing.T) {
	env := newTrackerEnv(t)
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 100)

	tests := []struct {
		name     string
		lessonID uint
		hb       Heartbeat
		check    func(error) bool
	}{
		{name: "unknown lesson", lessonID: 9999, hb: Heartbeat{Position: 1}, check: apperrors.IsNotFound},
		{name: "negative position", lessonID: lesson.ID, hb: Heartbeat{Position: -1}, check: apperrors.IsValidation},
		{name: "nan position", lessonID: lesson.ID, hb: Heartbeat{Position: math.NaN()}, check: apperrors.IsValidation},
		{name: "infinite duration", lessonID: lesson.ID, hb: Heartbeat{Position: 1, Duration: math.Inf(1)}, check: apperrors.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.tracker.UpdateProgress(context.Background(), testUser, tt.lessonID, tt.hb)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error type: %v", err)
		})
	}

	var count int64
	require.NoError(t, env.db.Model(&courseModels.LessonProgress{}).Count(&count).Error)
	assert.Zero(t, count, "rejected heartbeats must not create progress rows")
}

func TestUpdateProgress_UnpublishedLessonIsNotFound(t *testing.T) {
	env := newTrackerEnv(t)
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 100)
	require.NoError(t, env.db.Model(&lesson).Update("is_published", false).Error)

	_, err := env.tracker.UpdateProgress(context.Background(), testUser, lesson.ID, Heartbeat{Position: 10})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUpdateProgress_StoresSessionID(t *testing.T) {
	env := newTrackerEnv(t)
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 100)

	_, err := env.tracker.UpdateProgress(context.Background(), testUser, lesson.ID, Heartbeat{Position: 10, SessionID: "tab-1"})
	require.NoError(t, err)

	var row courseModels.LessonProgress
	require.NoError(t, env.db.Where("user_id = ? AND lesson_id = ?", testUser, lesson.ID).First(&row).Error)
	assert.Equal(t, "tab-1", row.LastSessionID)
	assert.Equal(t, env.fixture.Course.ID, row.CourseID)
}

func TestUpdateProgress_ConcurrentHeartbeatsAccumulate(t *testing.T) {
	env := newTrackerEnv(t)
	lesson := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 1000)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		snaps []Snapshot
	)
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(pos float64) {
			defer wg.Done()
			snap, err := env.tracker.UpdateProgress(context.Background(), testUser, lesson.ID, Heartbeat{Position: pos})
			assert.NoError(t, err)
			mu.Lock()
			snaps = append(snaps, snap)
			mu.Unlock()
		}(float64(i * 10))
	}
	wg.Wait()

	var rows []courseModels.LessonProgress
	require.NoError(t, env.db.Where("user_id = ? AND lesson_id = ?", testUser, lesson.ID).Find(&rows).Error)
	require.Len(t, rows, 1)

	// whatever order the heartbeats landed in, playback climbed from 0 to 100
	// and every report observed a running total that never decreased
	var highest int64
	for _, s := range snaps {
		if s.WatchedSeconds > highest {
			highest = s.WatchedSeconds
		}
	}
	assert.Equal(t, highest, rows[0].WatchedSeconds, "stored total is the high-water mark of all reports")
	assert.GreaterOrEqual(t, rows[0].WatchedSeconds, int64(100))
}

func TestGetProgress_ZeroState(t *testing.T) {
	env := newTrackerEnv(t)

	snap, err := env.tracker.GetProgress(context.Background(), testUser, 77)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{LessonID: 77, State: StateNotStarted}, snap)
}

func TestMarkComplete(t *testing.T) {
	hooks := &hookRecorder{}
	runner := NewHookRunner(hooks.Hooks())
	env := newTrackerEnv(t, WithHooks(runner))
	article := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentArticle, 0)

	snap, err := env.tracker.MarkComplete(context.Background(), testUser, article.ID)
	require.NoError(t, err)
	assert.True(t, snap.IsCompleted)
	assert.Equal(t, 100, snap.CompletionPercentage)
	require.NotNil(t, snap.CompletedAt)
	first := *snap.CompletedAt

	env.clock.Advance(time.Minute)
	again, err := env.tracker.MarkComplete(context.Background(), testUser, article.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(*again.CompletedAt))

	runner.Wait()
	assert.Equal(t, []uint{article.ID}, hooks.lessons())
}

func TestMarkComplete_VideoKeepsWatchedAccounting(t *testing.T) {
	env := newTrackerEnv(t)
	video := dbtest.SeedLesson(t, env.db, env.fixture, courseModels.ContentVideo, 100)

	env.heartbeat(t, video.ID, 20, 100)
	snap, err := env.tracker.MarkComplete(context.Background(), testUser, video.ID)
	require.NoError(t, err)
	assert.True(t, snap.IsCompleted)
	assert.Equal(t, int64(20), snap.WatchedSeconds)
	assert.Equal(t, 20, snap.CompletionPercentage)
}

func TestMarkComplete_UnknownLesson(t *testing.T) {
	env := newTrackerEnv(t)

	_, err := env.tracker.MarkComplete(context.Background(), testUser, 404)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestWatchDelta(t *testing.T) {
	tests := []struct {
		last, pos float64
		want      int64
	}{
		{0, 10, 10},
		{10, 10, 0},
		{50, 20, 0},
		{20, 30.4, 10},
		{20, 30.6, 10},
		{20.6, 30.4, 10},
		{0.25, 0.5, 0},
		{0.75, 1.0, 1},
		{10.9, 10.2, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, watchDelta(tt.last, tt.pos), "%v -> %v", tt.last, tt.pos)
	}
}

func TestCompletionPercentage(t *testing.T) {
	assert.Equal(t, 8, completionPercentage(10, 120, false))
	assert.Equal(t, 90, completionPercentage(108, 120, false))
	assert.Equal(t, 100, completionPercentage(500, 120, false))
	assert.Equal(t, 0, completionPercentage(30, 0, false))
	assert.Equal(t, 100, completionPercentage(0, 0, true))
	assert.Equal(t, 0, completionPercentage(0, -5, false))
}

type hookRecorder struct {
	mu            sync.Mutex
	lessonEvents  []uint
	courseEvents  []uint
	courseHookErr error
}

func (h *hookRecorder) Hooks() Hooks {
	return Hooks{
		OnLessonCompleted: func(_ context.Context, _, lessonID uint) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.lessonEvents = append(h.lessonEvents, lessonID)
			return nil
		},
		OnCourseCompleted: func(_ context.Context, _, courseID uint) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.courseEvents = append(h.courseEvents, courseID)
			return h.courseHookErr
		},
	}
}

func (h *hookRecorder) lessons() []uint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint(nil), h.lessonEvents...)
}

func (h *hookRecorder) courses() []uint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint(nil), h.courseEvents...)
}
