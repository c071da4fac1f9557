package course

import "time"

// LessonProgress is the authoritative watch state of one user on one lesson.
// WatchedSeconds only grows; Completed and CompletedAt never change once set.
type LessonProgress struct {
	ID             uint       `json:"id" gorm:"primarykey"`
	UserID         uint       `json:"user_id" gorm:"uniqueIndex:idx_progress_user_lesson;not null"`
	LessonID       uint       `json:"lesson_id" gorm:"uniqueIndex:idx_progress_user_lesson;not null"`
	CourseID       uint       `json:"course_id" gorm:"index;not null"`
	WatchedSeconds int64      `json:"watched_seconds" gorm:"not null;default:0"`
	LastPosition   float64    `json:"last_position" gorm:"not null;default:0"`
	Duration       float64    `json:"duration" gorm:"not null;default:0"` // Effective duration of the last heartbeat
	Completed      bool       `json:"completed" gorm:"not null;default:false"`
	CompletedAt    *time.Time `json:"completed_at"`
	LastSessionID  string     `json:"last_session_id" gorm:"size:64"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	Lesson Lesson `json:"-" gorm:"foreignKey:LessonID;constraint:OnDelete:CASCADE"`
}

func (LessonProgress) TableName() string { return "lesson_progress" }
