package controllers

import (
	"context"
	"log"
	"time"

	"lessonpulse/middleware"
	courseModels "lessonpulse/models/course"
	"lessonpulse/services/catalog"
	"lessonpulse/services/progress"
	progressValidator "lessonpulse/validators/progress"

	"github.com/gofiber/fiber/v2"
)

// ProgressTracker is the lesson progress surface the handlers use.
type ProgressTracker interface {
	UpdateProgress(ctx context.Context, userID, lessonID uint, hb progress.Heartbeat) (progress.Snapshot, error)
	GetProgress(ctx context.Context, userID, lessonID uint) (progress.Snapshot, error)
	MarkComplete(ctx context.Context, userID, lessonID uint) (progress.Snapshot, error)
}

// CompletionAggregator is the course rollup surface the handlers use.
type CompletionAggregator interface {
	CalculateCourseCompletion(ctx context.Context, userID, courseID uint) (int, error)
	Completion(ctx context.Context, userID, courseID uint) (courseModels.Enrollment, error)
}

// EnrollmentToucher records learner activity on the enrollment.
type EnrollmentToucher interface {
	TouchEnrollment(ctx context.Context, userID, courseID uint, at time.Time) error
}

// Handler serves the progress API.
type Handler struct {
	Tracker     ProgressTracker
	Aggregator  CompletionAggregator
	Enrollments EnrollmentToucher
}

// CourseCompletion is the course rollup returned to clients.
type CourseCompletion struct {
	CourseID             uint       `json:"course_id"`
	CompletionPercentage int        `json:"completion_percentage"`
	Status               string     `json:"status"`
	CompletedAt          *time.Time `json:"completed_at"`
}

// Heartbeat applies a playback heartbeat.
func (h *Handler) Heartbeat(c *fiber.Ctx) error {
	userID, ok := c.Locals("userId").(uint)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	lesson := c.Locals("lesson").(catalog.Lesson)

	reqData, ok := c.Locals("validatedHeartbeat").(*progressValidator.HeartbeatRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}
	hb := progress.Heartbeat{Position: *reqData.Position, SessionID: reqData.SessionID}
	if reqData.Duration != nil {
		hb.Duration = *reqData.Duration
	}

	snap, err := h.Tracker.UpdateProgress(c.UserContext(), userID, lesson.ID, hb)
	if err != nil {
		return middleware.ErrorResponse(c, err)
	}

	if h.Enrollments != nil {
		if err := h.Enrollments.TouchEnrollment(c.UserContext(), userID, lesson.CourseID, time.Now()); err != nil {
			log.Printf("[API] touch enrollment of user %d in course %d: %v", userID, lesson.CourseID, err)
		}
	}

	return middleware.JsonResponse(c, fiber.StatusOK, true, "Progress updated!", snap)
}

// GetLessonProgress returns the stored progress for a lesson.
func (h *Handler) GetLessonProgress(c *fiber.Ctx) error {
	userID, ok := c.Locals("userId").(uint)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	lesson := c.Locals("lesson").(catalog.Lesson)

	snap, err := h.Tracker.GetProgress(c.UserContext(), userID, lesson.ID)
	if err != nil {
		return middleware.ErrorResponse(c, err)
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Progress fetched!", snap)
}

// CompleteLesson marks a lesson complete regardless of watched time.
func (h *Handler) CompleteLesson(c *fiber.Ctx) error {
	userID, ok := c.Locals("userId").(uint)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	lesson := c.Locals("lesson").(catalog.Lesson)

	snap, err := h.Tracker.MarkComplete(c.UserContext(), userID, lesson.ID)
	if err != nil {
		return middleware.ErrorResponse(c, err)
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Lesson completed!", snap)
}

// GetCourseCompletion returns the stored course rollup.
func (h *Handler) GetCourseCompletion(c *fiber.Ctx) error {
	userID, ok := c.Locals("userId").(uint)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	courseID := c.Locals("courseID").(uint)

	enrollment, err := h.Aggregator.Completion(c.UserContext(), userID, courseID)
	if err != nil {
		return middleware.ErrorResponse(c, err)
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Course completion fetched!", completionOf(enrollment))
}

// RecalculateCourseCompletion recomputes the course rollup and returns it.
func (h *Handler) RecalculateCourseCompletion(c *fiber.Ctx) error {
	userID, ok := c.Locals("userId").(uint)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	courseID := c.Locals("courseID").(uint)

	if _, err := h.Aggregator.CalculateCourseCompletion(c.UserContext(), userID, courseID); err != nil {
		return middleware.ErrorResponse(c, err)
	}
	enrollment, err := h.Aggregator.Completion(c.UserContext(), userID, courseID)
	if err != nil {
		return middleware.ErrorResponse(c, err)
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Course completion updated!", completionOf(enrollment))
}

func completionOf(e courseModels.Enrollment) CourseCompletion {
	return CourseCompletion{
		CourseID:             e.CourseID,
		CompletionPercentage: e.CompletionPercentage,
		Status:               e.Status,
		CompletedAt:          e.CompletedAt,
	}
}
