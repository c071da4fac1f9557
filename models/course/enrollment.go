package course

import (
	"time"

	"gorm.io/gorm"
)

const (
	EnrollmentActive    = "ACTIVE"
	EnrollmentCompleted = "COMPLETED"
)

// Enrollment tracks a user's enrollment in a course with its completion rollup.
// CompletionPercentage and Status are written only by the completion aggregator.
type Enrollment struct {
	gorm.Model
	UserID               uint       `json:"user_id" gorm:"uniqueIndex:idx_enrollment_user_course;not null"`
	CourseID             uint       `json:"course_id" gorm:"uniqueIndex:idx_enrollment_user_course;not null"`
	Status               string     `json:"status" gorm:"default:'ACTIVE'"` // ACTIVE, COMPLETED
	CompletionPercentage int        `json:"completion_percentage" gorm:"default:0"`
	LastAccessedAt       *time.Time `json:"last_accessed_at"`
	CompletedAt          *time.Time `json:"completed_at"`
	IsDeleted            bool       `gorm:"default:false"`
}
