package utils

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	courseModels "lessonpulse/models/course"
	"lessonpulse/reporting"

	"github.com/jinzhu/now"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const reconcileConcurrency = 4

// CompletionCalculator recomputes one enrollment's course completion.
type CompletionCalculator interface {
	CalculateCourseCompletion(ctx context.Context, userID, courseID uint) (int, error)
}

// logProgressScheduler logs scheduler events with timestamp
func logProgressScheduler(message string, args ...interface{}) {
	log.Printf("[PROGRESS-SCHEDULER %s] "+message, append([]interface{}{time.Now().Format(time.RFC3339)}, args...)...)
}

// ReconcileEnrollments recomputes completion for every ACTIVE enrollment
// accessed since the given time. Rollups lost to a crash between a lesson
// completing and the aggregator running, or made stale by catalog edits, are
// repaired here. Individual failures are reported and skipped.
func ReconcileEnrollments(ctx context.Context, db *gorm.DB, calc CompletionCalculator, since time.Time) (int, error) {
	var enrollments []courseModels.Enrollment
	err := db.WithContext(ctx).
		Select("id", "user_id", "course_id").
		Where("status = ? AND is_deleted = ? AND last_accessed_at >= ?", courseModels.EnrollmentActive, false, since).
		Find(&enrollments).Error
	if err != nil {
		return 0, err
	}

	var reconciled atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)
	for _, e := range enrollments {
		e := e
		g.Go(func() error {
			if _, err := calc.CalculateCourseCompletion(gctx, e.UserID, e.CourseID); err != nil {
				reporting.Error("PROGRESS-SCHEDULER", err, map[string]interface{}{
					"user_id":   e.UserID,
					"course_id": e.CourseID,
				})
				return nil
			}
			reconciled.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(reconciled.Load()), err
	}
	return int(reconciled.Load()), ctx.Err()
}

// StartReconcileScheduler registers the completion reconcile job on c.
func StartReconcileScheduler(c *cron.Cron, db *gorm.DB, calc CompletionCalculator, spec string) error {
	_, err := c.AddFunc(spec, func() {
		since := now.BeginningOfDay().AddDate(0, 0, -1)
		n, err := ReconcileEnrollments(context.Background(), db, calc, since)
		if err != nil {
			logProgressScheduler("Reconcile aborted after %d enrollments: %v", n, err)
			return
		}
		logProgressScheduler("Reconciled %d enrollments active since %s", n, since.Format(time.RFC3339))
	})
	if err != nil {
		return err
	}
	logProgressScheduler("Completion reconcile scheduled (%s)", spec)
	return nil
}

// InitializeProgressScheduler starts the progress background jobs
func InitializeProgressScheduler(db *gorm.DB, calc CompletionCalculator, spec string) (*cron.Cron, error) {
	logProgressScheduler("Initializing progress scheduler...")

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if err := StartReconcileScheduler(c, db, calc, spec); err != nil {
		return nil, err
	}
	c.Start()

	return c, nil
}
