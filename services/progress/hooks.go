package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lessonpulse/reporting"
)

// Hooks are side effects fired after completion state has been persisted.
// They run in background goroutines; a failing or slow hook never affects
// the state already written.
type Hooks struct {
	OnLessonCompleted func(ctx context.Context, userID, lessonID uint) error
	OnCourseCompleted func(ctx context.Context, userID, courseID uint) error
}

const defaultHookTimeout = 10 * time.Second

// HookRunner dispatches Hooks asynchronously and can be drained on shutdown.
type HookRunner struct {
	hooks   Hooks
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewHookRunner(hooks Hooks) *HookRunner {
	return &HookRunner{hooks: hooks, timeout: defaultHookTimeout}
}

// Wait blocks until every dispatched hook has returned.
func (r *HookRunner) Wait() {
	if r != nil {
		r.wg.Wait()
	}
}

func (r *HookRunner) lessonCompleted(userID, lessonID uint) {
	if r == nil || r.hooks.OnLessonCompleted == nil {
		return
	}
	r.dispatch("OnLessonCompleted", map[string]interface{}{"user_id": userID, "lesson_id": lessonID},
		func(ctx context.Context) error { return r.hooks.OnLessonCompleted(ctx, userID, lessonID) })
}

func (r *HookRunner) courseCompleted(userID, courseID uint) {
	if r == nil || r.hooks.OnCourseCompleted == nil {
		return
	}
	r.dispatch("OnCourseCompleted", map[string]interface{}{"user_id": userID, "course_id": courseID},
		func(ctx context.Context) error { return r.hooks.OnCourseCompleted(ctx, userID, courseID) })
}

func (r *HookRunner) dispatch(name string, extras map[string]interface{}, fn func(context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				reporting.Error("HOOKS", fmt.Errorf("%s panicked: %v", name, rec), extras)
			}
		}()

		// detached from the request: the response may already be written
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			reporting.Error("HOOKS", fmt.Errorf("%s failed: %w", name, err), extras)
		}
	}()
}
