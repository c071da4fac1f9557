// Package dbtest provides throwaway SQLite databases for tests.
package dbtest

import (
	"testing"

	"lessonpulse/database"
	courseModels "lessonpulse/models/course"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// New returns a migrated, private in-memory database that is closed when the
// test ends.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.Open("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Fixture is a published course with one module.
type Fixture struct {
	Course courseModels.Course
	Module courseModels.Module
}

// SeedCourse creates a published course with a single module.
func SeedCourse(t testing.TB, db *gorm.DB, title string) Fixture {
	t.Helper()

	c := courseModels.Course{Title: title, Status: "ACTIVE", IsPublished: true}
	require.NoError(t, db.Create(&c).Error)
	m := courseModels.Module{CourseID: c.ID, Title: title + " module"}
	require.NoError(t, db.Create(&m).Error)
	return Fixture{Course: c, Module: m}
}

// SeedLesson adds a published lesson to the fixture's module.
func SeedLesson(t testing.TB, db *gorm.DB, f Fixture, contentType string, durationSeconds int) courseModels.Lesson {
	t.Helper()

	l := courseModels.Lesson{
		CourseID:        f.Course.ID,
		ModuleID:        f.Module.ID,
		Title:           "lesson",
		ContentType:     contentType,
		DurationSeconds: durationSeconds,
		IsPublished:     true,
	}
	require.NoError(t, db.Create(&l).Error)
	return l
}

// Enroll creates an ACTIVE enrollment.
func Enroll(t testing.TB, db *gorm.DB, userID, courseID uint) courseModels.Enrollment {
	t.Helper()

	e := courseModels.Enrollment{UserID: userID, CourseID: courseID, Status: courseModels.EnrollmentActive}
	require.NoError(t, db.Create(&e).Error)
	return e
}
