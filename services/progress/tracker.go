// Package progress turns playback heartbeats into authoritative lesson
// progress and rolls lesson completion up to the course enrollment.
package progress

import (
	"context"
	"log"
	"math"
	"time"

	"lessonpulse/apperrors"
	courseModels "lessonpulse/models/course"
	"lessonpulse/services/catalog"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultCompletionThreshold is the percentage of a lesson at which it counts
// as finished.
const DefaultCompletionThreshold = 90

// State is the per (user, lesson) lifecycle. Completed is terminal.
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
)

// LessonResolver is the catalog lookup the tracker needs.
type LessonResolver interface {
	ResolveLesson(ctx context.Context, lessonID uint) (catalog.Lesson, error)
}

// CourseRollup recomputes course completion after a lesson completes.
type CourseRollup interface {
	CalculateCourseCompletion(ctx context.Context, userID, courseID uint) (int, error)
}

// Heartbeat is one playback report.
type Heartbeat struct {
	Position  float64
	Duration  float64
	SessionID string
}

// Snapshot is the progress view returned to callers.
type Snapshot struct {
	LessonID             uint       `json:"lesson_id"`
	WatchedSeconds       int64      `json:"watched_seconds"`
	LastPosition         float64    `json:"last_position"`
	CompletionPercentage int        `json:"completion_percentage"`
	IsCompleted          bool       `json:"is_completed"`
	CompletedAt          *time.Time `json:"completed_at"`
	State                State      `json:"state"`
}

// Tracker is the server-side state machine for lesson progress.
type Tracker struct {
	db        *gorm.DB
	lessons   LessonResolver
	rollup    CourseRollup
	hooks     *HookRunner
	threshold int
	now       func() time.Time
}

type TrackerOption func(*Tracker)

// WithThreshold overrides the completion percentage (1..100).
func WithThreshold(pct int) TrackerOption {
	return func(t *Tracker) {
		if pct > 0 && pct <= 100 {
			t.threshold = pct
		}
	}
}

// WithRollup recomputes course completion whenever a lesson completes.
func WithRollup(r CourseRollup) TrackerOption {
	return func(t *Tracker) { t.rollup = r }
}

// WithHooks fires OnLessonCompleted through runner.
func WithHooks(runner *HookRunner) TrackerOption {
	return func(t *Tracker) { t.hooks = runner }
}

func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(db *gorm.DB, lessons LessonResolver, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		db:        db,
		lessons:   lessons,
		threshold: DefaultCompletionThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// UpdateProgress applies a heartbeat for (userID, lessonID).
//
// Forward movement since the last reported position is added to
// WatchedSeconds with an atomic increment; backward seeks and repeats add
// nothing. LastPosition is always overwritten. Completion is sticky.
// Enrollment is a precondition checked by the caller.
func (t *Tracker) UpdateProgress(ctx context.Context, userID, lessonID uint, hb Heartbeat) (Snapshot, error) {
	if err := validateHeartbeat(hb); err != nil {
		return Snapshot{}, err
	}

	lesson, err := t.lessons.ResolveLesson(ctx, lessonID)
	if err != nil {
		return Snapshot{}, err
	}
	duration := effectiveDuration(lesson, hb.Duration)
	now := t.now()

	var (
		row          courseModels.LessonProgress
		transitioned bool
	)
	err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureRow(tx, userID, lessonID, lesson.CourseID); err != nil {
			return err
		}
		if err := loadRow(tx, userID, lessonID, &row); err != nil {
			return err
		}

		delta := watchDelta(row.LastPosition, hb.Position)
		updates := map[string]interface{}{
			"last_position": hb.Position,
			"duration":      duration,
		}
		if hb.SessionID != "" {
			updates["last_session_id"] = hb.SessionID
		}
		if delta > 0 {
			// increment in SQL so concurrent heartbeats cannot overwrite each other
			updates["watched_seconds"] = gorm.Expr("watched_seconds + ?", delta)
		}
		if err := tx.Model(&courseModels.LessonProgress{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
			return errors.Wrap(err, "apply heartbeat")
		}
		if err := tx.First(&row, row.ID).Error; err != nil {
			return errors.Wrap(err, "reload progress")
		}

		if row.Completed || completionPercentage(row.WatchedSeconds, duration, false) < t.threshold {
			return nil
		}
		transitioned, err = markCompleted(tx, row.ID, now)
		if err != nil {
			return err
		}
		return tx.First(&row, row.ID).Error
	})
	if err != nil {
		return Snapshot{}, err
	}

	if transitioned {
		log.Printf("[PROGRESS] user %d completed lesson %d (watched %ds of %.0fs)", userID, lessonID, row.WatchedSeconds, duration)
		t.afterCompletion(ctx, userID, lesson)
	}
	return snapshotOf(row), nil
}

// GetProgress returns the stored progress, or the zero state when the user
// has never reported on the lesson.
func (t *Tracker) GetProgress(ctx context.Context, userID, lessonID uint) (Snapshot, error) {
	var row courseModels.LessonProgress
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND lesson_id = ?", userID, lessonID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{LessonID: lessonID, State: StateNotStarted}, nil
	}
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "load progress of user %d on lesson %d", userID, lessonID)
	}
	return snapshotOf(row), nil
}

// MarkComplete completes a lesson regardless of watched time. Used for
// articles, quizzes and assignments. Completing twice keeps the first
// CompletedAt.
func (t *Tracker) MarkComplete(ctx context.Context, userID, lessonID uint) (Snapshot, error) {
	lesson, err := t.lessons.ResolveLesson(ctx, lessonID)
	if err != nil {
		return Snapshot{}, err
	}
	now := t.now()

	var (
		row          courseModels.LessonProgress
		transitioned bool
	)
	err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureRow(tx, userID, lessonID, lesson.CourseID); err != nil {
			return err
		}
		if err := loadRow(tx, userID, lessonID, &row); err != nil {
			return err
		}
		if row.Completed {
			return nil
		}
		transitioned, err = markCompleted(tx, row.ID, now)
		if err != nil {
			return err
		}
		return tx.First(&row, row.ID).Error
	})
	if err != nil {
		return Snapshot{}, err
	}

	if transitioned {
		log.Printf("[PROGRESS] user %d marked lesson %d complete", userID, lessonID)
		t.afterCompletion(ctx, userID, lesson)
	}
	return snapshotOf(row), nil
}

// afterCompletion runs once per false->true transition, after commit.
func (t *Tracker) afterCompletion(ctx context.Context, userID uint, lesson catalog.Lesson) {
	t.hooks.lessonCompleted(userID, lesson.ID)

	if t.rollup == nil {
		return
	}
	if _, err := t.rollup.CalculateCourseCompletion(ctx, userID, lesson.CourseID); err != nil {
		// lesson state is committed; the reconcile job repairs the rollup later
		log.Printf("[PROGRESS] course rollup for user %d course %d failed: %v", userID, lesson.CourseID, err)
	}
}

func ensureRow(tx *gorm.DB, userID, lessonID, courseID uint) error {
	row := courseModels.LessonProgress{UserID: userID, LessonID: lessonID, CourseID: courseID}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "lesson_id"}},
		DoNothing: true,
	}).Omit(clause.Associations).Create(&row).Error
	return errors.Wrap(err, "create progress row")
}

func loadRow(tx *gorm.DB, userID, lessonID uint, row *courseModels.LessonProgress) error {
	err := tx.Where("user_id = ? AND lesson_id = ?", userID, lessonID).First(row).Error
	return errors.Wrap(err, "load progress row")
}

// markCompleted flips completed only if it is still false, so CompletedAt is
// written exactly once even under concurrent heartbeats.
func markCompleted(tx *gorm.DB, id uint, at time.Time) (bool, error) {
	res := tx.Model(&courseModels.LessonProgress{}).
		Where("id = ? AND completed = ?", id, false).
		Updates(map[string]interface{}{"completed": true, "completed_at": at})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "mark lesson completed")
	}
	return res.RowsAffected == 1, nil
}

func validateHeartbeat(hb Heartbeat) error {
	var fields []apperrors.FieldError
	if math.IsNaN(hb.Position) || math.IsInf(hb.Position, 0) {
		fields = append(fields, apperrors.FieldError{Field: "position", Error: "position must be a finite number"})
	} else if hb.Position < 0 {
		fields = append(fields, apperrors.FieldError{Field: "position", Error: "position must not be negative"})
	}
	if math.IsNaN(hb.Duration) || math.IsInf(hb.Duration, 0) {
		fields = append(fields, apperrors.FieldError{Field: "duration", Error: "duration must be a finite number"})
	}
	if len(hb.SessionID) > 64 {
		fields = append(fields, apperrors.FieldError{Field: "session_id", Error: "session_id must not exceed 64 characters"})
	}
	if len(fields) > 0 {
		return apperrors.NewValidation("invalid heartbeat", fields...)
	}
	return nil
}

// effectiveDuration prefers the catalog duration; the reported one is only a
// fallback for lessons the catalog has no length for.
func effectiveDuration(lesson catalog.Lesson, reported float64) float64 {
	if lesson.DurationSeconds > 0 {
		return float64(lesson.DurationSeconds)
	}
	if reported > 0 {
		return reported
	}
	return 0
}

// watchDelta is the number of whole-second marks crossed moving forward from
// lastPosition to position. Counting marks instead of rounding each delta keeps
// the increments of a continuous forward run summing to the distance played.
func watchDelta(lastPosition, position float64) int64 {
	d := int64(math.Floor(position)) - int64(math.Floor(lastPosition))
	if d <= 0 {
		return 0
	}
	return d
}

// completionPercentage is min(100, round(watched/duration*100)); 0 without a
// duration unless the lesson was explicitly completed.
func completionPercentage(watched int64, duration float64, completed bool) int {
	if duration <= 0 {
		if completed {
			return 100
		}
		return 0
	}
	pct := int(math.Round(float64(watched) / duration * 100))
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

func stateOf(row courseModels.LessonProgress) State {
	switch {
	case row.Completed:
		return StateCompleted
	case row.WatchedSeconds > 0 || row.LastPosition > 0:
		return StateInProgress
	default:
		return StateNotStarted
	}
}

func snapshotOf(row courseModels.LessonProgress) Snapshot {
	return Snapshot{
		LessonID:             row.LessonID,
		WatchedSeconds:       row.WatchedSeconds,
		LastPosition:         row.LastPosition,
		CompletionPercentage: completionPercentage(row.WatchedSeconds, row.Duration, row.Completed),
		IsCompleted:          row.Completed,
		CompletedAt:          row.CompletedAt,
		State:                stateOf(row),
	}
}
