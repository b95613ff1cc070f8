package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-comms/core"
	"github.com/trezcool/masomo-comms/core/communication"
	sqlxrepos "github.com/trezcool/masomo-comms/storage/database/sqlx"
	"github.com/trezcool/masomo-comms/tests"
)

func ids(comms []communication.Communication) []string {
	out := make([]string, 0, len(comms))
	for _, comm := range comms {
		out = append(out, comm.ID)
	}
	return out
}

func Test_communicationRepository_QueryCommunications(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewCommunicationRepository(db)

	math := testutil.CreateCourse(t, db, "Mathematics")
	physics := testutil.CreateCourse(t, db, "Physics")
	awe := testutil.CreateGuardian(t, db, "Awe", "awe@test.cd", math)
	mimi := testutil.CreateGuardian(t, db, "Mimi", "mimi@test.cd", math, physics)

	now := time.Now().UTC()
	exam := testutil.CreateCommunication(t, db, math, "Exam", "Exam on Monday", "2024-03-01", communication.StatusDraft, []communication.Guardian{awe, mimi}, now.Add(-4*time.Hour))
	trip := testutil.CreateCommunication(t, db, physics, "Field trip", "Bring a lunch", "2024-03-15", communication.StatusScheduled, []communication.Guardian{mimi}, now.Add(-3*time.Hour))
	holidays := testutil.CreateCommunication(t, db, math, "Holidays", "School closes for the EXAM week", "2024-04-01", communication.StatusSent, nil, now.Add(-2*time.Hour))
	meeting := testutil.CreateCommunication(t, db, physics, "Meeting", "Parents meeting", "2024-02-20", communication.StatusDraft, nil, now.Add(-1*time.Hour))

	tests := []struct {
		name     string
		filter   communication.QueryFilter
		ordering []core.DBOrdering
		want     []communication.Communication
	}{
		{name: "all, newest first", want: []communication.Communication{meeting, holidays, trip, exam}},
		{name: "course", filter: communication.QueryFilter{CourseID: physics.ID}, want: []communication.Communication{meeting, trip}},
		{name: "status", filter: communication.QueryFilter{Status: communication.StatusDraft}, want: []communication.Communication{meeting, exam}},
		{
			name:   "date range is inclusive",
			filter: communication.QueryFilter{FromDate: core.MustParseDate("2024-03-01"), ToDate: core.MustParseDate("2024-03-15")},
			want:   []communication.Communication{trip, exam},
		},
		{name: "from date", filter: communication.QueryFilter{FromDate: core.MustParseDate("2024-03-02")}, want: []communication.Communication{holidays, trip}},
		{name: "to date", filter: communication.QueryFilter{ToDate: core.MustParseDate("2024-02-29")}, want: []communication.Communication{meeting}},
		{name: "search title or message, any case", filter: communication.QueryFilter{Search: "exam"}, want: []communication.Communication{holidays, exam}},
		{name: "search (unknown)", filter: communication.QueryFilter{Search: "lol"}, want: []communication.Communication{}},
		{
			name:   "combined",
			filter: communication.QueryFilter{CourseID: math.ID, Status: communication.StatusSent, Search: "exam"},
			want:   []communication.Communication{holidays},
		},
		{
			name:     "order by title",
			ordering: []core.DBOrdering{{Field: "title", Ascending: true}},
			want:     []communication.Communication{exam, trip, holidays, meeting},
		},
		{
			name:     "order by -send_date",
			ordering: []core.DBOrdering{{Field: "send_date"}},
			want:     []communication.Communication{holidays, trip, exam, meeting},
		},
		{
			name:     "order by status then newest",
			ordering: []core.DBOrdering{{Field: "status", Ascending: true}},
			want:     []communication.Communication{meeting, exam, trip, holidays},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := repo.QueryCommunications(context.Background(), tt.filter, communication.LoadOptions{}, core.Pagination{}, tt.ordering)
			require.NoError(t, err)
			assert.Equal(t, ids(tt.want), ids(got))
			assert.Equal(t, len(tt.want), total)
		})
	}

	t.Run("pagination", func(t *testing.T) {
		got, total, err := repo.QueryCommunications(context.Background(), communication.QueryFilter{}, communication.LoadOptions{}, core.Pagination{Page: 2, PerPage: 3}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{exam.ID}, ids(got))
		assert.Equal(t, 4, total)
	})

	t.Run("relations", func(t *testing.T) {
		opts := communication.LoadOptions{WithCourse: true, WithGuardians: true, WithCounts: true}
		got, _, err := repo.QueryCommunications(context.Background(), communication.QueryFilter{CourseID: math.ID}, opts, core.Pagination{}, nil)
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, holidays.ID, got[0].ID)
		assert.Equal(t, &communication.Course{ID: math.ID, Name: "Mathematics"}, got[0].Course)
		assert.Equal(t, []communication.Guardian{}, got[0].Guardians)
		require.NotNil(t, got[0].GuardiansCount)
		assert.Equal(t, 0, *got[0].GuardiansCount)

		assert.Equal(t, exam.ID, got[1].ID)
		assert.Equal(t, []communication.Guardian{awe, mimi}, got[1].Guardians)
		assert.Equal(t, 2, *got[1].GuardiansCount)
	})

	t.Run("relations not loaded", func(t *testing.T) {
		got, _, err := repo.QueryCommunications(context.Background(), communication.QueryFilter{}, communication.LoadOptions{}, core.Pagination{}, nil)
		require.NoError(t, err)
		for _, comm := range got {
			assert.Nil(t, comm.Course)
			assert.Nil(t, comm.Guardians)
			assert.Nil(t, comm.GuardiansCount)
		}
	})
}

func Test_communicationRepository_QueryCommunications_unicodeSearch(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewCommunicationRepository(db)

	french := testutil.CreateCourse(t, db, "Français")
	ecole := testutil.CreateCommunication(t, db, french, "École fermée", "Réunion des parents", "2024-03-01", communication.StatusDraft, nil)
	testutil.CreateCommunication(t, db, french, "Exam", "Exam on Monday", "2024-03-01", communication.StatusDraft, nil)

	for _, search := range []string{"école", "ÉCOLE", "FERMÉE", "réunion"} {
		t.Run(search, func(t *testing.T) {
			got, total, err := repo.QueryCommunications(context.Background(), communication.QueryFilter{Search: search}, communication.LoadOptions{}, core.Pagination{}, nil)
			require.NoError(t, err)
			assert.Equal(t, 1, total)
			assert.Equal(t, []string{ecole.ID}, ids(got))
		})
	}
}

func Test_communicationRepository_GetCommunication(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewCommunicationRepository(db)

	math := testutil.CreateCourse(t, db, "Mathematics")
	comm := testutil.CreateCommunication(t, db, math, "Exam", "Exam on Monday", "2024-03-01", communication.StatusDraft, nil)

	got, err := repo.GetCommunication(context.Background(), comm.ID, communication.LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, comm.ID, got.ID)
	assert.Equal(t, comm.Title, got.Title)
	assert.Equal(t, "2024-03-01", got.SendDate.String())
	assert.True(t, comm.CreatedAt.Equal(got.CreatedAt), "created_at = %v, want %v", got.CreatedAt, comm.CreatedAt)

	_, err = repo.GetCommunication(context.Background(), uuid.New().String(), communication.LoadOptions{})
	assert.Equal(t, communication.ErrNotFound, err)
}

func Test_communicationRepository_guardedWrites(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewCommunicationRepository(db)
	ctx := context.Background()

	math := testutil.CreateCourse(t, db, "Mathematics")
	draft := testutil.CreateCommunication(t, db, math, "Exam", "Exam", "2024-03-01", communication.StatusDraft, nil)
	sent := testutil.CreateCommunication(t, db, math, "Holidays", "Holidays", "2024-03-01", communication.StatusSent, nil)

	sent.Title = "lol"
	_, err := repo.UpdateCommunication(ctx, sent, db)
	assert.Equal(t, communication.ErrAlreadySent, err)
	assert.Equal(t, communication.ErrAlreadySent, repo.MarkSent(ctx, sent.ID, time.Now().UTC()))

	missing := draft
	missing.ID = uuid.New().String()
	_, err = repo.UpdateCommunication(ctx, missing)
	assert.Equal(t, communication.ErrNotFound, err)
	assert.Equal(t, communication.ErrNotFound, repo.MarkSent(ctx, missing.ID, time.Now().UTC()))

	draft.Title = "Exams"
	_, err = repo.UpdateCommunication(ctx, draft)
	require.NoError(t, err)
	require.NoError(t, repo.MarkSent(ctx, draft.ID, time.Now().UTC()))

	got, err := repo.GetCommunication(ctx, draft.ID, communication.LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Exams", got.Title)
	assert.Equal(t, communication.StatusSent, got.Status)
}

func Test_communicationRepository_references(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewCommunicationRepository(db)
	ctx := context.Background()

	math := testutil.CreateCourse(t, db, "Mathematics")
	awe := testutil.CreateGuardian(t, db, "Awe", "awe@test.cd", math)
	mimi := testutil.CreateGuardian(t, db, "Mimi", "mimi@test.cd")

	exists, err := repo.CourseExists(ctx, math.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repo.CourseExists(ctx, uuid.New().String())
	require.NoError(t, err)
	assert.False(t, exists)

	unknown := uuid.New().String()
	missing, err := repo.MissingGuardians(ctx, []string{awe.ID, unknown, mimi.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{unknown}, missing)

	courseGuardians, err := repo.CourseGuardianIDs(ctx, math.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{awe.ID}, courseGuardians)

	comm := testutil.CreateCommunication(t, db, math, "Exam", "Exam", "2024-03-01", communication.StatusDraft, []communication.Guardian{mimi, awe})
	guardians, err := repo.QueryGuardians(ctx, comm.ID)
	require.NoError(t, err)
	assert.Equal(t, []communication.Guardian{awe, mimi}, guardians)

	require.NoError(t, repo.DetachGuardians(ctx, comm.ID))
	guardians, err = repo.QueryGuardians(ctx, comm.ID)
	require.NoError(t, err)
	assert.Empty(t, guardians)
	assert.Equal(t, 2, testutil.CountRows(t, db, "guardians", ""))
}

func Test_directoryRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	dir := sqlxrepos.NewDirectoryRepository(db)
	ctx := context.Background()

	course := communication.Course{ID: uuid.New().String(), Name: "Maths"}
	require.NoError(t, dir.SaveCourse(ctx, course))
	course.Name = "Mathematics"
	require.NoError(t, dir.SaveCourse(ctx, course))

	guardian := communication.Guardian{ID: uuid.New().String(), Name: "Awe", Email: "awe@test.cd"}
	require.NoError(t, dir.SaveGuardian(ctx, guardian))
	require.NoError(t, dir.EnrollGuardians(ctx, course.ID, []string{guardian.ID}))
	require.NoError(t, dir.EnrollGuardians(ctx, course.ID, []string{guardian.ID}), "enrollment is idempotent")

	assert.Equal(t, 1, testutil.CountRows(t, db, "courses", "name = ?", "Mathematics"))
	assert.Equal(t, 1, testutil.CountRows(t, db, "course_guardian", "course_id = ?", course.ID))
	assert.Error(t, dir.EnrollGuardians(ctx, course.ID, []string{uuid.New().String()}), "unknown guardian")
}
