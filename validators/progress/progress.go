package progressValidator

import (
	"strconv"
	"strings"

	"lessonpulse/middleware"
	"lessonpulse/validators"

	"github.com/gofiber/fiber/v2"
)

// HeartbeatRequest is the validated heartbeat body.
type HeartbeatRequest struct {
	Position  *float64 `json:"position" validate:"required,gte=0,finite"`
	Duration  *float64 `json:"duration" validate:"omitempty,gte=0,finite"`
	SessionID string   `json:"session_id" validate:"omitempty,max=64"`
}

// LessonID validates the :lesson_id route parameter and stores it as "lessonID".
func LessonID() fiber.Handler {
	return idParam("lesson_id", "lessonID", "Lesson ID")
}

// CourseID validates the :course_id route parameter and stores it as "courseID".
func CourseID() fiber.Handler {
	return idParam("course_id", "courseID", "Course ID")
}

func idParam(param, local, label string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Params(param))
		if raw == "" {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, label+" is required!", nil)
		}

		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid "+label+"!", nil)
		}

		c.Locals(local, uint(id))
		return c.Next()
	}
}

// Heartbeat validates the heartbeat body and stores it as "validatedHeartbeat".
func Heartbeat() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(HeartbeatRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}
		reqData.SessionID = strings.TrimSpace(reqData.SessionID)

		if errs := validators.Struct(reqData); errs != nil {
			return middleware.ValidationErrorResponse(c, errs)
		}

		c.Locals("validatedHeartbeat", reqData)
		return c.Next()
	}
}
