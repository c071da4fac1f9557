package course

import "gorm.io/gorm"

// Lesson content types. Video and audio are driven by playback heartbeats,
// the others are completed explicitly.
const (
	ContentVideo      = "VIDEO"
	ContentAudio      = "AUDIO"
	ContentArticle    = "ARTICLE"
	ContentQuiz       = "QUIZ"
	ContentAssignment = "ASSIGNMENT"
)

// Lesson represents a single unit of content within a module
type Lesson struct {
	gorm.Model
	CourseID        uint   `json:"course_id" gorm:"index;not null"`
	ModuleID        uint   `json:"module_id" gorm:"index;not null"`
	Title           string `json:"title"`
	ContentType     string `json:"content_type" gorm:"default:'VIDEO'"`
	DurationSeconds int    `json:"duration_seconds" gorm:"default:0"` // 0 for non time-based content
	OrderIndex      int    `json:"order_index" gorm:"default:0"`      // Order within module
	IsPublished     bool   `json:"is_published" gorm:"default:false"`
	IsDeleted       bool   `gorm:"default:false"`
}
