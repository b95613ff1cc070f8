package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-comms/core"
	"github.com/trezcool/masomo-comms/core/communication"
)

var (
	communicationColumns = []string{
		"c.id", "c.course_id", "c.title", "c.message", "c.send_date", "c.status", "c.created_at", "c.updated_at",
	}

	// newest first; id breaks ties between rows created within the same instant
	defaultOrdering = []core.DBOrdering{
		{Field: "c.created_at"},
		{Field: "c.id"},
	}
)

type communicationRow struct {
	ID        string    `db:"id"`
	CourseID  string    `db:"course_id"`
	Title     string    `db:"title"`
	Message   string    `db:"message"`
	SendDate  core.Date `db:"send_date"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	// optional relations
	CourseName     null.String `db:"course_name"`
	GuardiansCount null.Int    `db:"guardians_count"`
}

func (row communicationRow) toCommunication(opts communication.LoadOptions) communication.Communication {
	comm := communication.Communication{
		ID:        row.ID,
		CourseID:  row.CourseID,
		Title:     row.Title,
		Message:   row.Message,
		SendDate:  row.SendDate,
		Status:    communication.Status(row.Status),
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	if opts.WithCourse && row.CourseName.Valid {
		comm.Course = &communication.Course{ID: row.CourseID, Name: row.CourseName.String}
	}
	if opts.WithCounts {
		cnt := row.GuardiansCount.Int
		comm.GuardiansCount = &cnt
	}
	return comm
}

type guardianRow struct {
	CommunicationID string `db:"communication_id"`
	communication.Guardian
}

type communicationRepository struct {
	exec core.DBExecutor
	psq  sq.StatementBuilderType
}

var _ communication.Repository = (*communicationRepository)(nil) // interface compliance check

func NewCommunicationRepository(exec core.DBExecutor) *communicationRepository {
	return &communicationRepository{exec: exec, psq: statementBuilder(exec)}
}

// statementBuilder picks the placeholder format of the executor's driver.
func statementBuilder(exec core.DBExecutor) sq.StatementBuilderType {
	if exec.DriverName() == "postgres" {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func (repo communicationRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return repo.exec
}

// trapNoRowsErr maps "no rows" err to communication.ErrNotFound
func (repo communicationRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return communication.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo communicationRepository) CourseExists(ctx context.Context, id string, exec ...core.DBExecutor) (bool, error) {
	query, args, err := repo.psq.Select("COUNT(*)").From("courses").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, errors.Wrap(err, "building course query")
	}
	var cnt int
	if err = sqlx.GetContext(ctx, repo.getExec(exec), &cnt, query, args...); err != nil {
		return false, errors.Wrap(err, "checking course")
	}
	return cnt > 0, nil
}

func (repo communicationRepository) MissingGuardians(ctx context.Context, ids []string, exec ...core.DBExecutor) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := repo.psq.Select("id").From("guardians").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building guardians query")
	}
	var found []string
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &found, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying guardians")
	}

	existing := make(map[string]struct{}, len(found))
	for _, id := range found {
		existing[id] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := existing[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (repo communicationRepository) CourseGuardianIDs(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]string, error) {
	query, args, err := repo.psq.Select("guardian_id").
		From("course_guardian").
		Where(sq.Eq{"course_id": courseID}).
		OrderBy("guardian_id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building course guardians query")
	}
	ids := make([]string, 0)
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &ids, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying course guardians")
	}
	return ids, nil
}

func (repo communicationRepository) selectCommunications(opts communication.LoadOptions) sq.SelectBuilder {
	b := repo.psq.Select(communicationColumns...).From("communications c")
	if opts.WithCourse {
		b = b.Column("co.name AS course_name").LeftJoin("courses co ON co.id = c.course_id")
	}
	if opts.WithCounts {
		b = b.Column("(SELECT COUNT(*) FROM communication_guardian cg WHERE cg.communication_id = c.id) AS guardians_count")
	}
	return b
}

func applyFilter(b sq.SelectBuilder, filter communication.QueryFilter) sq.SelectBuilder {
	if filter.CourseID != "" {
		b = b.Where(sq.Eq{"c.course_id": filter.CourseID})
	}
	if filter.Status != "" {
		b = b.Where(sq.Eq{"c.status": string(filter.Status)})
	}
	// inclusive date range
	if !filter.FromDate.IsZero() {
		b = b.Where(sq.GtOrEq{"c.send_date": filter.FromDate})
	}
	if !filter.ToDate.IsZero() {
		b = b.Where(sq.LtOrEq{"c.send_date": filter.ToDate})
	}
	// communications with Title or Message containing the search keyword
	if filter.Search != "" {
		val := "%" + strings.ToLower(filter.Search) + "%"
		b = b.Where(sq.Or{
			sq.Expr("LOWER(c.title) LIKE ?", val),
			sq.Expr("LOWER(c.message) LIKE ?", val),
		})
	}
	return b
}

// orderBy qualifies the ordering fields with the communications alias, then appends the default ordering.
func orderBy(ordering []core.DBOrdering) []string {
	orderList := make([]string, 0, len(ordering)+len(defaultOrdering))
	for _, ord := range ordering {
		ord.Field = "c." + ord.Field
		orderList = append(orderList, ord.String())
	}
	for _, ord := range defaultOrdering {
		orderList = append(orderList, ord.String())
	}
	return orderList
}

func (repo communicationRepository) QueryCommunications(
	ctx context.Context,
	filter communication.QueryFilter,
	opts communication.LoadOptions,
	page core.Pagination,
	ordering []core.DBOrdering,
	exec ...core.DBExecutor,
) ([]communication.Communication, int, error) {
	exe := repo.getExec(exec)

	countQuery, countArgs, err := applyFilter(repo.psq.Select("COUNT(*)").From("communications c"), filter).ToSql()
	if err != nil {
		return nil, 0, errors.Wrap(err, "building count query")
	}
	var total int
	if err = sqlx.GetContext(ctx, exe, &total, countQuery, countArgs...); err != nil {
		return nil, 0, errors.Wrap(err, "counting communications")
	}

	b := applyFilter(repo.selectCommunications(opts), filter).OrderBy(orderBy(ordering)...)
	if page.PerPage > 0 {
		b = b.Limit(uint64(page.PerPage)).Offset(uint64(page.Offset()))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, 0, errors.Wrap(err, "building communications query")
	}

	var rows []communicationRow
	if err = sqlx.SelectContext(ctx, exe, &rows, query, args...); err != nil {
		return nil, 0, errors.Wrap(err, "querying communications")
	}
	comms := make([]communication.Communication, 0, len(rows))
	for _, row := range rows {
		comms = append(comms, row.toCommunication(opts))
	}

	if opts.WithGuardians {
		if err = repo.loadGuardians(ctx, exe, comms); err != nil {
			return nil, 0, err
		}
	}
	return comms, total, nil
}

func (repo communicationRepository) GetCommunication(ctx context.Context, id string, opts communication.LoadOptions, exec ...core.DBExecutor) (communication.Communication, error) {
	exe := repo.getExec(exec)

	query, args, err := repo.selectCommunications(opts).Where(sq.Eq{"c.id": id}).ToSql()
	if err != nil {
		return communication.Communication{}, errors.Wrap(err, "building communication query")
	}
	var row communicationRow
	if err = sqlx.GetContext(ctx, exe, &row, query, args...); err != nil {
		return communication.Communication{}, repo.trapNoRowsErr(err, "finding communication by ID")
	}

	comms := []communication.Communication{row.toCommunication(opts)}
	if opts.WithGuardians {
		if err = repo.loadGuardians(ctx, exe, comms); err != nil {
			return communication.Communication{}, err
		}
	}
	return comms[0], nil
}

// loadGuardians eager-loads the guardians of every communication in comms with one query.
func (repo communicationRepository) loadGuardians(ctx context.Context, exe core.DBExecutor, comms []communication.Communication) error {
	if len(comms) == 0 {
		return nil
	}
	ids := make([]string, 0, len(comms))
	for _, comm := range comms {
		ids = append(ids, comm.ID)
	}

	query, args, err := sqlx.In(
		`SELECT cg.communication_id, g.id, g.name, g.email, g.phone
		FROM communication_guardian cg
		JOIN guardians g ON g.id = cg.guardian_id
		WHERE cg.communication_id IN (?)
		ORDER BY g.name, g.id`,
		ids,
	)
	if err != nil {
		return errors.Wrap(err, "building guardians query")
	}
	var rows []guardianRow
	if err = sqlx.SelectContext(ctx, exe, &rows, exe.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "querying guardians")
	}

	byComm := make(map[string][]communication.Guardian, len(comms))
	for _, row := range rows {
		byComm[row.CommunicationID] = append(byComm[row.CommunicationID], row.Guardian)
	}
	for i := range comms {
		comms[i].Guardians = byComm[comms[i].ID]
		if comms[i].Guardians == nil {
			comms[i].Guardians = make([]communication.Guardian, 0)
		}
	}
	return nil
}

func (repo communicationRepository) CreateCommunication(ctx context.Context, comm communication.Communication, exec ...core.DBExecutor) (communication.Communication, error) {
	query, args, err := repo.psq.Insert("communications").
		Columns("id", "course_id", "title", "message", "send_date", "status", "created_at", "updated_at").
		Values(comm.ID, comm.CourseID, comm.Title, comm.Message, comm.SendDate, string(comm.Status), comm.CreatedAt, comm.UpdatedAt).
		ToSql()
	if err != nil {
		return communication.Communication{}, errors.Wrap(err, "building insert")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, query, args...); err != nil {
		return communication.Communication{}, errors.Wrap(err, "inserting communication")
	}
	return comm, nil
}

// stateOf returns the stored status of a communication, after a guarded write touched no row.
func (repo communicationRepository) stateOf(ctx context.Context, exe core.DBExecutor, id string) error {
	query, args, err := repo.psq.Select("status").From("communications").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building status query")
	}
	var status string
	if err = sqlx.GetContext(ctx, exe, &status, query, args...); err != nil {
		return repo.trapNoRowsErr(err, "checking communication status")
	}
	if communication.Status(status).IsSent() {
		return communication.ErrAlreadySent
	}
	return errors.New("communication was not modified")
}

func (repo communicationRepository) UpdateCommunication(ctx context.Context, comm communication.Communication, exec ...core.DBExecutor) (communication.Communication, error) {
	exe := repo.getExec(exec)

	query, args, err := repo.psq.Update("communications").
		SetMap(map[string]interface{}{
			"course_id":  comm.CourseID,
			"title":      comm.Title,
			"message":    comm.Message,
			"send_date":  comm.SendDate,
			"status":     string(comm.Status),
			"updated_at": comm.UpdatedAt,
		}).
		Where(sq.Eq{"id": comm.ID}).
		Where(sq.NotEq{"status": string(communication.StatusSent)}).
		ToSql()
	if err != nil {
		return communication.Communication{}, errors.Wrap(err, "building update")
	}
	res, err := exe.ExecContext(ctx, query, args...)
	if err != nil {
		return communication.Communication{}, errors.Wrap(err, "updating communication")
	}
	if n, err := res.RowsAffected(); err != nil {
		return communication.Communication{}, errors.Wrap(err, "updating communication")
	} else if n == 0 {
		return communication.Communication{}, repo.stateOf(ctx, exe, comm.ID)
	}
	return comm, nil
}

func (repo communicationRepository) MarkSent(ctx context.Context, id string, at time.Time, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)

	query, args, err := repo.psq.Update("communications").
		Set("status", string(communication.StatusSent)).
		Set("updated_at", at).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": string(communication.StatusSent)}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building update")
	}
	res, err := exe.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "marking communication sent")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "marking communication sent")
	} else if n == 0 {
		return repo.stateOf(ctx, exe, id)
	}
	return nil
}

func (repo communicationRepository) DeleteCommunication(ctx context.Context, id string, exec ...core.DBExecutor) error {
	query, args, err := repo.psq.Delete("communications").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building delete")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "deleting communication")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "deleting communication")
	} else if n == 0 {
		return communication.ErrNotFound
	}
	return nil
}

func (repo communicationRepository) AttachGuardians(ctx context.Context, commID string, guardianIDs []string, exec ...core.DBExecutor) error {
	if len(guardianIDs) == 0 {
		return nil
	}
	b := repo.psq.Insert("communication_guardian").Columns("communication_id", "guardian_id")
	for _, id := range guardianIDs {
		b = b.Values(commID, id)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "building insert")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "attaching guardians")
	}
	return nil
}

func (repo communicationRepository) DetachGuardians(ctx context.Context, commID string, exec ...core.DBExecutor) error {
	query, args, err := repo.psq.Delete("communication_guardian").Where(sq.Eq{"communication_id": commID}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building delete")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "detaching guardians")
	}
	return nil
}

func (repo communicationRepository) QueryGuardians(ctx context.Context, commID string, exec ...core.DBExecutor) ([]communication.Guardian, error) {
	query, args, err := repo.psq.Select("g.id", "g.name", "g.email", "g.phone").
		From("guardians g").
		Join("communication_guardian cg ON cg.guardian_id = g.id").
		Where(sq.Eq{"cg.communication_id": commID}).
		OrderBy("g.name", "g.id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building guardians query")
	}
	guardians := make([]communication.Guardian, 0)
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &guardians, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying guardians")
	}
	return guardians, nil
}
