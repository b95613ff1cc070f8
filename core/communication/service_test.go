package communication_test

import (
	"context"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-comms/core"
	"github.com/trezcool/masomo-comms/core/communication"
	sqlxrepos "github.com/trezcool/masomo-comms/storage/database/sqlx"
	"github.com/trezcool/masomo-comms/tests"
)

// dispatcherMock fails the delivery to the guardians in failFor.
type dispatcherMock struct {
	mu       sync.Mutex
	failFor  map[string]bool
	received []communication.Communication
}

func (d *dispatcherMock) Dispatch(ctx context.Context, comm communication.Communication) communication.SendResult {
	d.mu.Lock()
	d.received = append(d.received, comm)
	d.mu.Unlock()

	res := communication.SendResult{Success: true, Message: "ok", Errors: make([]communication.DeliveryError, 0)}
	for _, g := range comm.Guardians {
		if d.failFor[g.ID] {
			res.Success = false
			res.Message = "failed"
			res.Errors = append(res.Errors, communication.DeliveryError{GuardianID: g.ID, Guardian: g.Name, Error: "boom"})
			continue
		}
		res.Sent++
	}
	return res
}

func setup(t *testing.T) (*sqlx.DB, *communication.Service, *dispatcherMock) {
	db := testutil.PrepareDB(t)
	dispatcher := &dispatcherMock{failFor: make(map[string]bool)}
	svc, err := communication.NewService(db, sqlxrepos.NewCommunicationRepository(db), dispatcher, core.PaginationConfig{DefaultPerPage: 2, MaxPerPage: 3})
	require.NoError(t, err)
	return db, svc, dispatcher
}

func newValidator() *validator.Validate {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	communication.InitValidators(validate, translator)
	return validate
}

func guardianIDs(gs []communication.Guardian) []string {
	ids := make([]string, 0, len(gs))
	for _, g := range gs {
		ids = append(ids, g.ID)
	}
	return ids
}

func TestNewService(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewCommunicationRepository(db)

	_, err := communication.NewService(nil, repo, &dispatcherMock{}, core.PaginationConfig{})
	assert.Error(t, err)
	_, err = communication.NewService(db, nil, &dispatcherMock{}, core.PaginationConfig{})
	assert.Error(t, err)
	_, err = communication.NewService(db, repo, nil, core.PaginationConfig{})
	assert.Error(t, err)
}

func TestService_Create(t *testing.T) {
	db, svc, dispatcher := setup(t)
	ctx := context.Background()

	math := testutil.CreateCourse(t, db, "Mathematics")
	awe := testutil.CreateGuardian(t, db, "Awe", "awe@test.cd", math)
	mimi := testutil.CreateGuardian(t, db, "Mimi", "mimi@test.cd", math)
	other := testutil.CreateGuardian(t, db, "Other", "other@test.cd")

	t.Run("defaults to the course guardians", func(t *testing.T) {
		comm, err := svc.Create(ctx, communication.NewCommunication{
			CourseID: math.ID, Title: "Exam", Message: "Exam on monday", SendDate: "2024-03-01", Status: communication.StatusDraft,
		})
		require.NoError(t, err)
		assert.Equal(t, communication.StatusDraft, comm.Status)
		assert.Equal(t, "2024-03-01", comm.SendDate.String())
		require.NotNil(t, comm.Course)
		assert.Equal(t, "Mathematics", comm.Course.Name)

		got, err := svc.Get(ctx, comm.ID, communication.LoadOptions{WithGuardians: true})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{awe.ID, mimi.ID}, guardianIDs(got.Guardians))
		assert.Empty(t, dispatcher.received)
	})

	t.Run("explicit guardians", func(t *testing.T) {
		comm, err := svc.Create(ctx, communication.NewCommunication{
			CourseID: math.ID, Title: "Trip", Message: "Trip", SendDate: "2024-03-02", Status: communication.StatusScheduled,
			GuardianIDs: []string{other.ID},
		})
		require.NoError(t, err)
		got, err := svc.Get(ctx, comm.ID, communication.LoadOptions{WithGuardians: true, WithCounts: true})
		require.NoError(t, err)
		assert.Equal(t, []string{other.ID}, guardianIDs(got.Guardians))
		require.NotNil(t, got.GuardiansCount)
		assert.Equal(t, 1, *got.GuardiansCount)
	})

	t.Run("send now", func(t *testing.T) {
		comm, err := svc.Create(ctx, communication.NewCommunication{
			CourseID: math.ID, Title: "Now", Message: "Right now", SendDate: "2024-03-03", Status: communication.StatusDraft,
			SendNow: true,
		})
		require.NoError(t, err)
		assert.Equal(t, communication.StatusSent, comm.Status)
		require.NotEmpty(t, dispatcher.received)
		last := dispatcher.received[len(dispatcher.received)-1]
		assert.Len(t, last.Guardians, 2)
		require.NotNil(t, last.Course)
		assert.Equal(t, "Mathematics", last.Course.Name)
	})

	t.Run("send now fails: nothing is created", func(t *testing.T) {
		before := testutil.CountRows(t, db, "communications", "")
		dispatcher.failFor[awe.ID] = true
		defer delete(dispatcher.failFor, awe.ID)

		_, err := svc.Create(ctx, communication.NewCommunication{
			CourseID: math.ID, Title: "Fail", Message: "Fail", SendDate: "2024-03-03", Status: communication.StatusDraft,
			SendNow: true,
		})
		var dispatchErr *communication.DispatchError
		require.ErrorAs(t, err, &dispatchErr)
		assert.Equal(t, 1, dispatchErr.Result.Sent)
		assert.Equal(t, before, testutil.CountRows(t, db, "communications", ""))
	})
}

func TestNewCommunication_Validate(t *testing.T) {
	db, svc, _ := setup(t)
	ctx := context.Background()
	validate := newValidator()

	math := testutil.CreateCourse(t, db, "Mathematics")
	awe := testutil.CreateGuardian(t, db, "Awe", "awe@test.cd", math)

	t.Run("valid & cleaned", func(t *testing.T) {
		nc := communication.NewCommunication{
			CourseID: " " + math.ID + " ", Title: "  Exam ", Message: "Exam", SendDate: "2024-03-01", Status: "Draft",
			GuardianIDs: []string{awe.ID, awe.ID},
		}
		require.NoError(t, nc.Validate(ctx, validate, svc))
		assert.Equal(t, math.ID, nc.CourseID)
		assert.Equal(t, "Exam", nc.Title)
		assert.Equal(t, communication.StatusDraft, nc.Status)
		assert.Equal(t, []string{awe.ID}, nc.GuardianIDs)
	})

	t.Run("guardians left unset", func(t *testing.T) {
		nc := communication.NewCommunication{CourseID: math.ID, Title: "Exam", Message: "Exam", SendDate: "2024-03-01", Status: "draft"}
		require.NoError(t, nc.Validate(ctx, validate, svc))
		assert.Nil(t, nc.GuardianIDs)
	})

	t.Run("invalid shape", func(t *testing.T) {
		nc := communication.NewCommunication{CourseID: "lol", Title: " ", SendDate: "01/03/2024", Status: "archived"}
		err := nc.Validate(ctx, validate, svc)
		errs, ok := err.(validator.ValidationErrors)
		require.True(t, ok, "want validator.ValidationErrors, got %T", err)
		fields := make([]string, 0, len(errs))
		for _, fe := range errs {
			fields = append(fields, fe.Field())
		}
		assert.ElementsMatch(t, []string{"course_id", "title", "message", "send_date", "status"}, fields)
	})

	t.Run("unknown references", func(t *testing.T) {
		missing := uuid.New().String()
		nc := communication.NewCommunication{
			CourseID: uuid.New().String(), Title: "Exam", Message: "Exam", SendDate: "2024-03-01", Status: "draft",
			GuardianIDs: []string{awe.ID, missing},
		}
		err := nc.Validate(ctx, validate, svc)
		require.True(t, core.IsValidationError(err), "got %v", err)
		fields := err.(*core.ValidationError).FieldMap()
		assert.Equal(t, communication.ErrCourseNotFound.Error(), fields["course_id"])
		assert.Contains(t, fields["guardian_ids"], missing)
	})
}

func TestService_Update(t *testing.T) {
	db, svc, _ := setup(t)
	ctx := context.Background()
	sPtr := func(s string) *string { return &s }

	math := testutil.CreateCourse(t, db, "Mathematics")
	physics := testutil.CreateCourse(t, db, "Physics")
	awe := testutil.CreateGuardian(t, db, "Awe", "awe@test.cd", math)
	mimi := testutil.CreateGuardian(t, db, "Mimi", "mimi@test.cd", math)

	draft := testutil.CreateCommunication(t, db, math, "Exam", "Exam on monday", "2024-03-01", communication.StatusDraft, []communication.Guardian{awe})
	sent := testutil.CreateCommunication(t, db, math, "Holidays", "See you", "2024-02-01", communication.StatusSent, []communication.Guardian{awe})

	t.Run("empty update", func(t *testing.T) {
		got, err := svc.Update(ctx, draft, communication.UpdateCommunication{})
		require.NoError(t, err)
		assert.Equal(t, draft.UpdatedAt, got.UpdatedAt)
	})

	t.Run("partial update", func(t *testing.T) {
		got, err := svc.Update(ctx, draft, communication.UpdateCommunication{
			CourseID: sPtr(physics.ID),
			SendDate: sPtr("2024-04-01"),
		})
		require.NoError(t, err)
		assert.Equal(t, physics.ID, got.CourseID)
		assert.Equal(t, "Exam", got.Title)
		assert.Equal(t, "2024-04-01", got.SendDate.String())
		assert.True(t, got.UpdatedAt.After(draft.UpdatedAt) || got.UpdatedAt.Equal(draft.UpdatedAt))
	})

	t.Run("replace guardians", func(t *testing.T) {
		ids := []string{mimi.ID}
		_, err := svc.Update(ctx, draft, communication.UpdateCommunication{GuardianIDs: &ids})
		require.NoError(t, err)
		got, err := svc.Get(ctx, draft.ID, communication.LoadOptions{WithGuardians: true})
		require.NoError(t, err)
		assert.Equal(t, []string{mimi.ID}, guardianIDs(got.Guardians))
	})

	t.Run("sent is immutable", func(t *testing.T) {
		_, err := svc.Update(ctx, sent, communication.UpdateCommunication{Title: sPtr("lol")})
		assert.Equal(t, communication.ErrAlreadySent, err)
	})

	t.Run("stale copy of a sent communication", func(t *testing.T) {
		stale := sent
		stale.Status = communication.StatusDraft
		_, err := svc.Update(ctx, stale, communication.UpdateCommunication{Title: sPtr("lol")})
		assert.Equal(t, communication.ErrAlreadySent, err)

		got, err := svc.Get(ctx, sent.ID, communication.LoadOptions{})
		require.NoError(t, err)
		assert.Equal(t, "Holidays", got.Title)
	})
}

func TestService_Delete(t *testing.T) {
	db, svc, _ := setup(t)
	ctx := context.Background()

	math := testutil.CreateCourse(t, db, "Mathematics")
	awe := testutil.CreateGuardian(t, db, "Awe", "awe@test.cd", math)
	comm := testutil.CreateCommunication(t, db, math, "Exam", "Exam", "2024-03-01", communication.StatusSent, []communication.Guardian{awe})

	require.NoError(t, svc.Delete(ctx, comm.ID))
	assert.Equal(t, 0, testutil.CountRows(t, db, "communications", "id = ?", comm.ID))
	assert.Equal(t, 0, testutil.CountRows(t, db, "communication_guardian", "communication_id = ?", comm.ID))
	assert.Equal(t, 1, testutil.CountRows(t, db, "guardians", "id = ?", awe.ID), "guardians are kept")
	assert.Equal(t, 1, testutil.CountRows(t, db, "course_guardian", "guardian_id = ?", awe.ID))

	assert.Equal(t, communication.ErrNotFound, svc.Delete(ctx, comm.ID))
}

func TestService_Send(t *testing.T) {
	db, svc, dispatcher := setup(t)
	ctx := context.Background()

	math := testutil.CreateCourse(t, db, "Mathematics")
	awe := testutil.CreateGuardian(t, db, "Awe", "awe@test.cd", math)
	mimi := testutil.CreateGuardian(t, db, "Mimi", "mimi@test.cd", math)

	t.Run("success marks sent", func(t *testing.T) {
		comm := testutil.CreateCommunication(t, db, math, "Exam", "Exam", "2024-03-01", communication.StatusScheduled, []communication.Guardian{awe, mimi})
		res, err := svc.Send(ctx, comm)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 2, res.Sent)

		got, err := svc.Get(ctx, comm.ID, communication.LoadOptions{})
		require.NoError(t, err)
		assert.Equal(t, communication.StatusSent, got.Status)

		_, err = svc.Send(ctx, got)
		assert.Equal(t, communication.ErrAlreadySent, err)
	})

	t.Run("failure keeps status", func(t *testing.T) {
		comm := testutil.CreateCommunication(t, db, math, "Trip", "Trip", "2024-03-01", communication.StatusDraft, []communication.Guardian{awe, mimi})
		dispatcher.failFor[mimi.ID] = true
		defer delete(dispatcher.failFor, mimi.ID)

		res, err := svc.Send(ctx, comm)
		var dispatchErr *communication.DispatchError
		require.ErrorAs(t, err, &dispatchErr)
		assert.False(t, res.Success)
		assert.Equal(t, 1, res.Sent)
		assert.Equal(t, "error sending communication: failed", err.Error())

		got, err := svc.Get(ctx, comm.ID, communication.LoadOptions{})
		require.NoError(t, err)
		assert.Equal(t, communication.StatusDraft, got.Status)
	})

	t.Run("stale copy of a sent communication", func(t *testing.T) {
		comm := testutil.CreateCommunication(t, db, math, "Done", "Done", "2024-03-01", communication.StatusSent, []communication.Guardian{awe})
		comm.Status = communication.StatusDraft
		dispatched := len(dispatcher.received)

		_, err := svc.Send(ctx, comm)
		assert.Equal(t, communication.ErrAlreadySent, err)
		assert.Len(t, dispatcher.received, dispatched, "no dispatch")
	})

	t.Run("stale copy sent meanwhile", func(t *testing.T) {
		comm := testutil.CreateCommunication(t, db, math, "Fees", "Fees", "2024-03-01", communication.StatusDraft, []communication.Guardian{awe})
		_, err := svc.Send(ctx, comm)
		require.NoError(t, err)
		dispatched := len(dispatcher.received)

		_, err = svc.Send(ctx, comm) // comm still holds the draft status
		assert.Equal(t, communication.ErrAlreadySent, err)
		assert.Len(t, dispatcher.received, dispatched, "no dispatch")
	})

	t.Run("dispatches the stored communication with its course", func(t *testing.T) {
		comm := testutil.CreateCommunication(t, db, math, "Quiz", "Quiz on Friday", "2024-03-01", communication.StatusDraft, []communication.Guardian{awe})
		comm.Title = "stale"

		_, err := svc.Send(ctx, comm)
		require.NoError(t, err)
		got := dispatcher.received[len(dispatcher.received)-1]
		assert.Equal(t, "Quiz", got.Title)
		require.NotNil(t, got.Course)
		assert.Equal(t, "Mathematics", got.Course.Name)
		assert.Equal(t, guardianIDs([]communication.Guardian{awe}), guardianIDs(got.Guardians))
	})
}

func TestService_Query(t *testing.T) {
	db, svc, _ := setup(t)
	ctx := context.Background()

	math := testutil.CreateCourse(t, db, "Mathematics")
	for _, title := range []string{"One", "Two", "Three", "Four", "Five"} {
		testutil.CreateCommunication(t, db, math, title, title, "2024-03-01", communication.StatusDraft, nil)
	}

	comms, meta, err := svc.Query(ctx, communication.QueryFilter{}, communication.LoadOptions{}, core.Pagination{})
	require.NoError(t, err)
	assert.Len(t, comms, 2)
	assert.Equal(t, core.PageMeta{CurrentPage: 1, PerPage: 2, From: 1, To: 2, Total: 5, LastPage: 3}, meta)

	comms, meta, err = svc.Query(ctx, communication.QueryFilter{}, communication.LoadOptions{}, core.Pagination{Page: 2, PerPage: 50})
	require.NoError(t, err)
	assert.Len(t, comms, 2)
	assert.Equal(t, core.PageMeta{CurrentPage: 2, PerPage: 3, From: 4, To: 5, Total: 5, LastPage: 2}, meta)
}

func TestService_Get(t *testing.T) {
	_, svc, _ := setup(t)

	_, err := svc.Get(context.Background(), "lol", communication.LoadOptions{})
	assert.Equal(t, communication.ErrNotFound, err)
	_, err = svc.Get(context.Background(), uuid.New().String(), communication.LoadOptions{})
	assert.Equal(t, communication.ErrNotFound, err)
}
