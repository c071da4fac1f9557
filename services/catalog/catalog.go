// Package catalog answers the course-structure and enrollment lookups the
// progress core depends on.
package catalog

import (
	"context"
	"time"

	"lessonpulse/apperrors"
	courseModels "lessonpulse/models/course"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Lesson is the slice of lesson metadata progress tracking needs.
type Lesson struct {
	ID              uint
	CourseID        uint
	ContentType     string
	DurationSeconds int
}

// Service is the gorm-backed catalog.
type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ResolveLesson returns a published, non-deleted lesson or a NotFoundError.
func (s *Service) ResolveLesson(ctx context.Context, lessonID uint) (Lesson, error) {
	var lesson courseModels.Lesson
	err := s.db.WithContext(ctx).
		Where("id = ? AND is_deleted = ? AND is_published = ?", lessonID, false, true).
		First(&lesson).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Lesson{}, apperrors.NewNotFound("lesson", lessonID)
	}
	if err != nil {
		return Lesson{}, errors.Wrapf(err, "resolve lesson %d", lessonID)
	}

	return Lesson{
		ID:              lesson.ID,
		CourseID:        lesson.CourseID,
		ContentType:     lesson.ContentType,
		DurationSeconds: lesson.DurationSeconds,
	}, nil
}

// ListLessonIDs returns the published lessons across all live modules of a
// course, in module then lesson order.
func (s *Service) ListLessonIDs(ctx context.Context, courseID uint) ([]uint, error) {
	if err := s.EnsureCourse(ctx, courseID); err != nil {
		return nil, err
	}

	var ids []uint
	err := s.db.WithContext(ctx).Model(&courseModels.Lesson{}).
		Joins("JOIN modules ON modules.id = lessons.module_id").
		Where("modules.course_id = ? AND modules.is_deleted = ? AND modules.deleted_at IS NULL", courseID, false).
		Where("lessons.is_deleted = ? AND lessons.is_published = ?", false, true).
		Order("modules.order_index asc, lessons.order_index asc, lessons.id asc").
		Pluck("lessons.id", &ids).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list lessons of course %d", courseID)
	}
	return ids, nil
}

// EnsureCourse returns a NotFoundError unless the course exists and is not deleted.
func (s *Service) EnsureCourse(ctx context.Context, courseID uint) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&courseModels.Course{}).
		Where("id = ? AND is_deleted = ?", courseID, false).
		Count(&count).Error
	if err != nil {
		return errors.Wrapf(err, "load course %d", courseID)
	}
	if count == 0 {
		return apperrors.NewNotFound("course", courseID)
	}
	return nil
}

// IsEnrolled reports whether the user holds a live enrollment in the course.
func (s *Service) IsEnrolled(ctx context.Context, userID, courseID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&courseModels.Enrollment{}).
		Where("user_id = ? AND course_id = ? AND is_deleted = ?", userID, courseID, false).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrapf(err, "check enrollment of user %d in course %d", userID, courseID)
	}
	return count > 0, nil
}

// TouchEnrollment records the last time the user accessed the course.
func (s *Service) TouchEnrollment(ctx context.Context, userID, courseID uint, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&courseModels.Enrollment{}).
		Where("user_id = ? AND course_id = ? AND is_deleted = ?", userID, courseID, false).
		Update("last_accessed_at", at).Error
	return errors.Wrap(err, "touch enrollment")
}
