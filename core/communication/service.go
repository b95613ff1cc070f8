package communication

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-comms/core"
)

type (
	// Repository persists communications and their guardian associations.
	// Every method runs on the given executor (eg: a transaction) or on the repository's DB when none is given.
	Repository interface {
		CourseExists(ctx context.Context, id string, exec ...core.DBExecutor) (bool, error)
		// MissingGuardians returns the ids in `ids` that match no guardian.
		MissingGuardians(ctx context.Context, ids []string, exec ...core.DBExecutor) ([]string, error)
		CourseGuardianIDs(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]string, error)

		// QueryCommunications applies AND operation on available QueryFilter fields and returns one page of
		// results along with the total number of matches. Results are ordered newest first unless ordering is given.
		QueryCommunications(ctx context.Context, filter QueryFilter, opts LoadOptions, page core.Pagination, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Communication, int, error)
		GetCommunication(ctx context.Context, id string, opts LoadOptions, exec ...core.DBExecutor) (Communication, error)
		CreateCommunication(ctx context.Context, comm Communication, exec ...core.DBExecutor) (Communication, error)
		// UpdateCommunication fails with ErrAlreadySent when the stored communication is sent.
		UpdateCommunication(ctx context.Context, comm Communication, exec ...core.DBExecutor) (Communication, error)
		// MarkSent fails with ErrAlreadySent when the stored communication is sent.
		MarkSent(ctx context.Context, id string, at time.Time, exec ...core.DBExecutor) error
		DeleteCommunication(ctx context.Context, id string, exec ...core.DBExecutor) error

		AttachGuardians(ctx context.Context, commID string, guardianIDs []string, exec ...core.DBExecutor) error
		DetachGuardians(ctx context.Context, commID string, exec ...core.DBExecutor) error
		QueryGuardians(ctx context.Context, commID string, exec ...core.DBExecutor) ([]Guardian, error)
	}

	Service struct {
		db         core.DB
		repo       Repository
		dispatcher Dispatcher
		pageConf   core.PaginationConfig
	}
)

func NewService(db core.DB, repo Repository, dispatcher Dispatcher, pageConf core.PaginationConfig) (*Service, error) {
	err := vala.BeginValidation().Validate(
		vala.IsNotNil(db, "db"),
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(dispatcher, "dispatcher"),
	).Check()
	if err != nil {
		return nil, err
	}
	if pageConf.DefaultPerPage < 1 {
		pageConf.DefaultPerPage = 15
	}
	return &Service{db: db, repo: repo, dispatcher: dispatcher, pageConf: pageConf}, nil
}

// CheckReferences checks that the course (when given) and every guardian exist.
func (svc *Service) CheckReferences(ctx context.Context, courseID string, guardianIDs []string) error {
	var fields []core.FieldError

	if courseID != "" {
		exists, err := svc.repo.CourseExists(ctx, courseID)
		if err != nil {
			return errors.Wrap(err, "checking course")
		}
		if !exists {
			fields = append(fields, core.FieldError{Field: "course_id", Error: ErrCourseNotFound.Error()})
		}
	}

	if len(guardianIDs) > 0 {
		missing, err := svc.repo.MissingGuardians(ctx, guardianIDs)
		if err != nil {
			return errors.Wrap(err, "checking guardians")
		}
		if len(missing) > 0 {
			fields = append(fields, core.FieldError{
				Field: "guardian_ids",
				Error: fmt.Sprintf("unknown guardians: %v", missing),
			})
		}
	}

	if len(fields) > 0 {
		return core.NewValidationError(errors.New("invalid references"), fields...)
	}
	return nil
}

// Query returns one page of communications matching filter along with the page metadata.
func (svc *Service) Query(ctx context.Context, filter QueryFilter, opts LoadOptions, page core.Pagination, ordering ...core.DBOrdering) ([]Communication, core.PageMeta, error) {
	page = page.Normalize(svc.pageConf.DefaultPerPage, svc.pageConf.MaxPerPage)
	comms, total, err := svc.repo.QueryCommunications(ctx, filter, opts, page, ordering)
	if err != nil {
		return nil, core.PageMeta{}, err
	}
	return comms, core.NewPageMeta(page, len(comms), total), nil
}

func (svc *Service) Get(ctx context.Context, id string, opts LoadOptions) (Communication, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Communication{}, ErrNotFound
	}
	return svc.repo.GetCommunication(ctx, id, opts)
}

// Create persists a new communication and attaches its guardians. With SendNow, the communication is
// dispatched inside the same transaction: a failed dispatch rolls everything back and returns a *DispatchError.
func (svc *Service) Create(ctx context.Context, nc NewCommunication) (Communication, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	sendDate, err := core.ParseDate(nc.SendDate)
	if err != nil {
		return Communication{}, errors.Wrap(err, "parsing send_date")
	}
	comm := Communication{
		ID:        uuid.New().String(),
		CourseID:  nc.CourseID,
		Title:     nc.Title,
		Message:   nc.Message,
		SendDate:  sendDate,
		Status:    nc.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		comm, err = svc.repo.CreateCommunication(ctx, comm, exec)
		if err != nil {
			return errors.Wrap(err, "inserting communication")
		}

		guardianIDs := nc.GuardianIDs
		if guardianIDs == nil {
			if guardianIDs, err = svc.repo.CourseGuardianIDs(ctx, comm.CourseID, exec); err != nil {
				return errors.Wrap(err, "querying course guardians")
			}
		}
		if err = svc.repo.AttachGuardians(ctx, comm.ID, guardianIDs, exec); err != nil {
			return errors.Wrap(err, "attaching guardians")
		}

		if !nc.SendNow {
			return nil
		}
		_, err = svc.dispatch(ctx, &comm, exec)
		return err
	})
	if err != nil {
		return Communication{}, err
	}

	return svc.repo.GetCommunication(ctx, comm.ID, LoadOptions{WithCourse: true})
}

// Update applies the set fields of uu to the communication.
// A sent communication is never modified: ErrAlreadySent is returned instead.
func (svc *Service) Update(ctx context.Context, comm Communication, uu UpdateCommunication) (Communication, error) {
	if comm.Status.IsSent() {
		return Communication{}, ErrAlreadySent
	}
	if uu.IsEmpty() {
		return comm, nil
	}

	uu.apply(&comm)
	comm.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)

	err := core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		if _, err := svc.repo.UpdateCommunication(ctx, comm, exec); err != nil {
			return err
		}
		if uu.GuardianIDs == nil {
			return nil
		}
		if err := svc.repo.DetachGuardians(ctx, comm.ID, exec); err != nil {
			return errors.Wrap(err, "detaching guardians")
		}
		return errors.Wrap(svc.repo.AttachGuardians(ctx, comm.ID, *uu.GuardianIDs, exec), "attaching guardians")
	})
	if err != nil {
		return Communication{}, err
	}
	return svc.repo.GetCommunication(ctx, comm.ID, LoadOptions{})
}

// Delete detaches the guardians of the communication then removes it, atomically.
func (svc *Service) Delete(ctx context.Context, id string) error {
	return core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		if err := svc.repo.DetachGuardians(ctx, id, exec); err != nil {
			return errors.Wrap(err, "detaching guardians")
		}
		return svc.repo.DeleteCommunication(ctx, id, exec)
	})
}

// Send dispatches the communication to its guardians and marks it sent when the dispatch succeeds.
// A sent communication is never dispatched again: ErrAlreadySent is returned instead.
func (svc *Service) Send(ctx context.Context, comm Communication) (SendResult, error) {
	if comm.Status.IsSent() {
		return SendResult{}, ErrAlreadySent
	}
	return svc.dispatch(ctx, &comm, svc.db)
}

// dispatch sends the stored communication, with its course, to its attached guardians and marks it sent,
// using exec for every statement. The stored status is checked first: a sent communication is never dispatched.
// A failed dispatch returns a *DispatchError and leaves the status untouched.
func (svc *Service) dispatch(ctx context.Context, comm *Communication, exec core.DBExecutor) (SendResult, error) {
	stored, err := svc.repo.GetCommunication(ctx, comm.ID, LoadOptions{WithCourse: true}, exec)
	if err != nil {
		if err == ErrNotFound { // deleted meanwhile
			return SendResult{}, err
		}
		return SendResult{}, errors.Wrap(err, "loading communication")
	}
	if stored.Status.IsSent() {
		return SendResult{}, ErrAlreadySent
	}

	guardians, err := svc.repo.QueryGuardians(ctx, stored.ID, exec)
	if err != nil {
		return SendResult{}, errors.Wrap(err, "querying guardians")
	}
	stored.Guardians = guardians

	res := svc.dispatcher.Dispatch(ctx, stored)
	if !res.Success {
		return res, &DispatchError{Result: res}
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	if err = svc.repo.MarkSent(ctx, stored.ID, now, exec); err != nil {
		if err == ErrAlreadySent || err == ErrNotFound { // sent or deleted meanwhile
			return res, err
		}
		return res, errors.Wrap(err, "marking communication sent")
	}
	stored.Status = StatusSent
	stored.UpdatedAt = now
	*comm = stored
	return res, nil
}
