package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-comms/core"
	"github.com/trezcool/masomo-comms/core/communication"
)

type directoryRepository struct {
	exec core.DBExecutor
	psq  sq.StatementBuilderType
}

var _ communication.Directory = (*directoryRepository)(nil) // interface compliance check

func NewDirectoryRepository(exec core.DBExecutor) *directoryRepository {
	return &directoryRepository{exec: exec, psq: statementBuilder(exec)}
}

func (repo directoryRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return repo.exec
}

func (repo directoryRepository) SaveCourse(ctx context.Context, course communication.Course, exec ...core.DBExecutor) error {
	query, args, err := repo.psq.Insert("courses").
		Columns("id", "name", "created_at").
		Values(course.ID, course.Name, time.Now().UTC()).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name").
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building course upsert")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "saving course")
	}
	return nil
}

func (repo directoryRepository) SaveGuardian(ctx context.Context, guardian communication.Guardian, exec ...core.DBExecutor) error {
	query, args, err := repo.psq.Insert("guardians").
		Columns("id", "name", "email", "phone", "created_at").
		Values(guardian.ID, guardian.Name, guardian.Email, guardian.Phone, time.Now().UTC()).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone").
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building guardian upsert")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "saving guardian")
	}
	return nil
}

func (repo directoryRepository) EnrollGuardians(ctx context.Context, courseID string, guardianIDs []string, exec ...core.DBExecutor) error {
	if len(guardianIDs) == 0 {
		return nil
	}
	b := repo.psq.Insert("course_guardian").Columns("course_id", "guardian_id")
	for _, id := range guardianIDs {
		b = b.Values(courseID, id)
	}
	query, args, err := b.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return errors.Wrap(err, "building enrollment insert")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "enrolling guardians")
	}
	return nil
}
