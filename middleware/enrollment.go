package middleware

import (
	"context"

	"lessonpulse/apperrors"
	"lessonpulse/services/catalog"

	"github.com/gofiber/fiber/v2"
)

// EnrollmentChecker is the catalog surface the enrollment gate needs.
type EnrollmentChecker interface {
	ResolveLesson(ctx context.Context, lessonID uint) (catalog.Lesson, error)
	EnsureCourse(ctx context.Context, courseID uint) error
	IsEnrolled(ctx context.Context, userID, courseID uint) (bool, error)
}

// RequireLessonEnrollment resolves the "lessonID" local and lets the request
// through only when the user is enrolled in the lesson's course. The lesson
// is stored as "lesson".
func RequireLessonEnrollment(checker EnrollmentChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("userId").(uint)
		if !ok {
			return JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized: User ID not found", nil)
		}
		lessonID, _ := c.Locals("lessonID").(uint)

		lesson, err := checker.ResolveLesson(c.UserContext(), lessonID)
		if err != nil {
			return ErrorResponse(c, err)
		}
		if err := requireEnrollment(c.UserContext(), checker, userID, lesson.CourseID); err != nil {
			return ErrorResponse(c, err)
		}

		c.Locals("lesson", lesson)
		return c.Next()
	}
}

// RequireCourseEnrollment checks that the "courseID" local names a live
// course the user is enrolled in.
func RequireCourseEnrollment(checker EnrollmentChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("userId").(uint)
		if !ok {
			return JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized: User ID not found", nil)
		}
		courseID, _ := c.Locals("courseID").(uint)

		if err := checker.EnsureCourse(c.UserContext(), courseID); err != nil {
			return ErrorResponse(c, err)
		}
		if err := requireEnrollment(c.UserContext(), checker, userID, courseID); err != nil {
			return ErrorResponse(c, err)
		}
		return c.Next()
	}
}

func requireEnrollment(ctx context.Context, checker EnrollmentChecker, userID, courseID uint) error {
	enrolled, err := checker.IsEnrolled(ctx, userID, courseID)
	if err != nil {
		return err
	}
	if !enrolled {
		return apperrors.NewAuthorization(userID, courseID)
	}
	return nil
}
