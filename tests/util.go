package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-comms/core"
	"github.com/trezcool/masomo-comms/core/communication"
	"github.com/trezcool/masomo-comms/storage/database"
	sqlxrepos "github.com/trezcool/masomo-comms/storage/database/sqlx"
)

var dbCounter int64

// NewConfig returns a test configuration backed by an in-memory sqlite database.
func NewConfig() *core.Config {
	return &core.Config{
		AppName:          "Masomo",
		Env:              "TEST",
		Build:            "test",
		TestMode:         true,
		DefaultFromEmail: "Masomo <noreply@masomo.test>",
		FrontendBaseURL:  "http://localhost:3000",
		Server: core.ServerConfig{
			Address:         ":0",
			ShutdownTimeout: time.Second,
			DisableReqLogs:  true,
		},
		Database: core.DatabaseConfig{
			Engine: database.EngineSQLite,
			Name:   fmt.Sprintf("file:testdb%d?mode=memory&cache=shared&_foreign_keys=on", atomic.AddInt64(&dbCounter, 1)),
		},
		Pagination: core.PaginationConfig{DefaultPerPage: 15, MaxPerPage: 100},
		Dispatch:   core.DispatchConfig{Workers: 2, Channel: "console"},
	}
}

// PrepareDB opens a fresh, migrated in-memory database, closed at the end of the test.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.Open(NewConfig())
	require.NoError(t, err, "opening test database")
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(db), "migrating test database")
	return db
}

func CreateCourse(t *testing.T, db core.DBExecutor, name string) communication.Course {
	t.Helper()

	course := communication.Course{ID: uuid.New().String(), Name: name}
	err := sqlxrepos.NewDirectoryRepository(db).SaveCourse(context.Background(), course)
	require.NoError(t, err, "CreateCourse()")
	return course
}

func CreateGuardian(t *testing.T, db core.DBExecutor, name, email string, courses ...communication.Course) communication.Guardian {
	t.Helper()

	dir := sqlxrepos.NewDirectoryRepository(db)
	guardian := communication.Guardian{ID: uuid.New().String(), Name: name, Email: email}
	require.NoError(t, dir.SaveGuardian(context.Background(), guardian), "CreateGuardian()")
	for _, course := range courses {
		require.NoError(t, dir.EnrollGuardians(context.Background(), course.ID, []string{guardian.ID}), "CreateGuardian()")
	}
	return guardian
}

// CreateCommunication inserts a communication directly, bypassing the service.
func CreateCommunication(
	t *testing.T,
	db core.DBExecutor,
	course communication.Course,
	title, message, sendDate string,
	status communication.Status,
	guardians []communication.Guardian,
	createdAt ...time.Time,
) communication.Communication {
	t.Helper()

	tstamp := time.Now().UTC().Truncate(time.Microsecond)
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC().Truncate(time.Microsecond)
	}
	repo := sqlxrepos.NewCommunicationRepository(db)
	comm, err := repo.CreateCommunication(context.Background(), communication.Communication{
		ID:        uuid.New().String(),
		CourseID:  course.ID,
		Title:     title,
		Message:   message,
		SendDate:  core.MustParseDate(sendDate),
		Status:    status,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	})
	require.NoError(t, err, "CreateCommunication()")

	ids := make([]string, 0, len(guardians))
	for _, g := range guardians {
		ids = append(ids, g.ID)
	}
	require.NoError(t, repo.AttachGuardians(context.Background(), comm.ID, ids), "CreateCommunication()")
	return comm
}

// CountRows counts the rows of table matching where (eg: "communication_id = ?").
func CountRows(t *testing.T, db *sqlx.DB, table, where string, args ...interface{}) int {
	t.Helper()

	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var cnt int
	require.NoError(t, db.Get(&cnt, db.Rebind(query), args...), "CountRows()")
	return cnt
}
