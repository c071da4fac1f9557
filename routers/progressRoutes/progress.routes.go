package progressRoutes

import (
	controllers "lessonpulse/controllers/progress"
	"lessonpulse/middleware"
	validators "lessonpulse/validators/progress"

	"github.com/gofiber/fiber/v2"
)

// SetupProgressRoutes sets up the lesson progress and course completion routes
func SetupProgressRoutes(app *fiber.App, h *controllers.Handler, gate middleware.EnrollmentChecker) {
	progressGroup := app.Group("/progress", middleware.JWTMiddleware)

	lessonGate := middleware.RequireLessonEnrollment(gate)
	lessonGroup := progressGroup.Group("/lessons")
	lessonGroup.Post("/:lesson_id/heartbeat", validators.LessonID(), validators.Heartbeat(), lessonGate, h.Heartbeat)
	lessonGroup.Get("/:lesson_id", validators.LessonID(), lessonGate, h.GetLessonProgress)
	lessonGroup.Post("/:lesson_id/complete", validators.LessonID(), lessonGate, h.CompleteLesson)

	courseGate := middleware.RequireCourseEnrollment(gate)
	courseGroup := progressGroup.Group("/courses")
	courseGroup.Get("/:course_id/completion", validators.CourseID(), courseGate, h.GetCourseCompletion)
	courseGroup.Post("/:course_id/completion", validators.CourseID(), courseGate, h.RecalculateCourseCompletion)
}
