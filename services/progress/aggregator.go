package progress

import (
	"context"
	"log"
	"math"
	"time"

	"lessonpulse/apperrors"
	courseModels "lessonpulse/models/course"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// LessonLister lists the lessons that make up a course.
type LessonLister interface {
	ListLessonIDs(ctx context.Context, courseID uint) ([]uint, error)
}

// Aggregator rolls per-lesson completion up to the enrollment.
type Aggregator struct {
	db      *gorm.DB
	lessons LessonLister
	hooks   *HookRunner
	now     func() time.Time
}

func NewAggregator(db *gorm.DB, lessons LessonLister, hooks *HookRunner) *Aggregator {
	return &Aggregator{db: db, lessons: lessons, hooks: hooks, now: time.Now}
}

// CalculateCourseCompletion computes round(completed/total*100) for the
// user's lessons in the course, stores it on the enrollment and, the first
// time it reaches 100, marks the enrollment COMPLETED and fires
// OnCourseCompleted. A course without lessons is 0%.
func (a *Aggregator) CalculateCourseCompletion(ctx context.Context, userID, courseID uint) (int, error) {
	lessonIDs, err := a.lessons.ListLessonIDs(ctx, courseID)
	if err != nil {
		return 0, err
	}

	var completed int64
	if len(lessonIDs) > 0 {
		err = a.db.WithContext(ctx).Model(&courseModels.LessonProgress{}).
			Where("user_id = ? AND completed = ? AND lesson_id IN ?", userID, true, lessonIDs).
			Distinct("lesson_id").
			Count(&completed).Error
		if err != nil {
			return 0, errors.Wrapf(err, "count completed lessons of user %d in course %d", userID, courseID)
		}
	}
	pct := coursePercentage(completed, len(lessonIDs))

	var courseDone bool
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var enrollment courseModels.Enrollment
		err := tx.Where("user_id = ? AND course_id = ? AND is_deleted = ?", userID, courseID, false).
			First(&enrollment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NewNotFound("enrollment", courseID)
		}
		if err != nil {
			return errors.Wrap(err, "load enrollment")
		}

		if err := tx.Model(&enrollment).Update("completion_percentage", pct).Error; err != nil {
			return errors.Wrap(err, "store completion percentage")
		}
		if pct < 100 {
			return nil
		}

		// COMPLETED is sticky; only the first transition fires the hook
		res := tx.Model(&courseModels.Enrollment{}).
			Where("id = ? AND status <> ?", enrollment.ID, courseModels.EnrollmentCompleted).
			Updates(map[string]interface{}{
				"status":       courseModels.EnrollmentCompleted,
				"completed_at": a.now(),
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "complete enrollment")
		}
		courseDone = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return 0, err
	}

	if courseDone {
		log.Printf("[AGGREGATOR] user %d completed course %d", userID, courseID)
		a.hooks.courseCompleted(userID, courseID)
	}
	return pct, nil
}

// Completion returns the stored rollup without recomputing it.
func (a *Aggregator) Completion(ctx context.Context, userID, courseID uint) (courseModels.Enrollment, error) {
	var enrollment courseModels.Enrollment
	err := a.db.WithContext(ctx).
		Where("user_id = ? AND course_id = ? AND is_deleted = ?", userID, courseID, false).
		First(&enrollment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return enrollment, apperrors.NewNotFound("enrollment", courseID)
	}
	return enrollment, errors.Wrap(err, "load enrollment")
}

func coursePercentage(completed int64, total int) int {
	if total <= 0 {
		return 0
	}
	pct := int(math.Round(float64(completed) / float64(total) * 100))
	if pct > 100 {
		return 100
	}
	return pct
}
