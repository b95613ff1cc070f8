package communication

import (
	"fmt"
	"time"

	"github.com/trezcool/masomo-comms/core"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
)

var (
	AllStatuses = []Status{StatusDraft, StatusScheduled, StatusSent}

	// statuses a communication may be updated into; only a dispatch can mark it sent.
	UpdatableStatuses = []Status{StatusDraft, StatusScheduled}

	statusLabels = map[Status]string{
		StatusDraft:     "Draft",
		StatusScheduled: "Scheduled",
		StatusSent:      "Sent",
	}
)

func (s Status) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

func (s Status) IsValid() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s Status) IsSent() bool {
	return s == StatusSent
}

func (s Status) isUpdatable() bool {
	for _, st := range UpdatableStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// StatusOption is the label lookup table as exposed to clients.
type StatusOption struct {
	Value Status `json:"value"`
	Label string `json:"label"`
}

func StatusOptions() []StatusOption {
	opts := make([]StatusOption, 0, len(AllStatuses))
	for _, s := range AllStatuses {
		opts = append(opts, StatusOption{Value: s, Label: s.Label()})
	}
	return opts
}

type Course struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

type Guardian struct {
	ID    string `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
	Phone string `db:"phone" json:"phone"`
}

type Communication struct {
	ID        string    `db:"id"`
	CourseID  string    `db:"course_id"`
	Title     string    `db:"title"`
	Message   string    `db:"message"`
	SendDate  core.Date `db:"send_date"`
	Status    Status    `db:"status"`
	CreatedAt time.Time `db:"created_at"` // UTC
	UpdatedAt time.Time `db:"updated_at"` // UTC

	// loaded on demand, see LoadOptions
	Course         *Course
	Guardians      []Guardian
	GuardiansCount *int
}

// LoadOptions toggles the eager loading of a communication's relations.
type LoadOptions struct {
	WithCourse    bool `query:"with_course"`
	WithGuardians bool `query:"with_guardians"`
	WithCounts    bool `query:"with_counts"`
}

// NewCommunication contains information needed to create a new Communication.
type NewCommunication struct {
	CourseID string `json:"course_id" validate:"required,uuid"`
	Title    string `json:"title" validate:"required,notblank,max=255"`
	Message  string `json:"message" validate:"required,notblank"`
	SendDate string `json:"send_date" validate:"required,datetime=2006-01-02"`
	Status   Status `json:"status" validate:"required,comm_status"`
	SendNow  bool   `json:"send_now"`

	// GuardianIDs defaults to the guardians of the course when omitted.
	GuardianIDs []string `json:"guardian_ids" validate:"omitempty,dive,uuid"`
}

func (nc *NewCommunication) clean() {
	nc.CourseID = core.CleanString(nc.CourseID, true /* lower */)
	nc.Title = core.CleanString(nc.Title)
	nc.SendDate = core.CleanString(nc.SendDate)
	nc.Status = Status(core.CleanString(string(nc.Status), true /* lower */))
	for i, id := range nc.GuardianIDs {
		nc.GuardianIDs[i] = core.CleanString(id, true /* lower */)
	}
}

// UpdateCommunication defines what information may be provided to modify an existing Communication.
// Nil fields are left unchanged.
type UpdateCommunication struct {
	CourseID *string `json:"course_id" validate:"omitnil,required,uuid"`
	Title    *string `json:"title" validate:"omitnil,required,notblank,max=255"`
	Message  *string `json:"message" validate:"omitnil,required,notblank"`
	SendDate *string `json:"send_date" validate:"omitnil,required,datetime=2006-01-02"`
	Status   *Status `json:"status" validate:"omitnil,required,comm_update_status"`

	// GuardianIDs replaces the guardians of the communication when set.
	GuardianIDs *[]string `json:"guardian_ids" validate:"omitnil,dive,uuid"`
}

func (uc *UpdateCommunication) clean() {
	uc.CourseID = core.CleanStringPtr(uc.CourseID, true /* lower */)
	uc.Title = core.CleanStringPtr(uc.Title)
	uc.SendDate = core.CleanStringPtr(uc.SendDate)
	if uc.Status != nil {
		st := Status(core.CleanString(string(*uc.Status), true /* lower */))
		uc.Status = &st
	}
	if uc.GuardianIDs != nil {
		for i, id := range *uc.GuardianIDs {
			(*uc.GuardianIDs)[i] = core.CleanString(id, true /* lower */)
		}
	}
}

func (uc UpdateCommunication) IsEmpty() bool {
	return uc.CourseID == nil && uc.Title == nil && uc.Message == nil && uc.SendDate == nil &&
		uc.Status == nil && uc.GuardianIDs == nil
}

// apply copies the set fields onto comm.
func (uc UpdateCommunication) apply(comm *Communication) {
	if uc.CourseID != nil {
		comm.CourseID = *uc.CourseID
	}
	if uc.Title != nil {
		comm.Title = *uc.Title
	}
	if uc.Message != nil {
		comm.Message = *uc.Message
	}
	if uc.SendDate != nil {
		comm.SendDate = core.MustParseDate(*uc.SendDate)
	}
	if uc.Status != nil {
		comm.Status = *uc.Status
	}
}

// OrderingFields are the fields a listing may be ordered by.
var OrderingFields = []string{"created_at", "updated_at", "send_date", "title", "status"}

// CheckOrdering fails with a core.ValidationError when ordering names a field not in OrderingFields.
func CheckOrdering(ordering []core.DBOrdering) error {
	for _, ord := range ordering {
		var known bool
		for _, fld := range OrderingFields {
			if ord.Field == fld {
				known = true
				break
			}
		}
		if !known {
			return core.NewValidationError(
				fmt.Errorf("cannot order by %q", ord.Field),
				core.FieldError{Field: "ordering", Error: fmt.Sprintf("unknown field %q", ord.Field)},
			)
		}
	}
	return nil
}

type QueryFilter struct {
	CourseID string    `query:"course_id" validate:"omitempty,uuid"`
	Status   Status    `query:"status" validate:"omitempty,comm_status"`
	FromDate core.Date `query:"from_date"`
	ToDate   core.Date `query:"to_date"`
	// Search does a case-insensitive substring match on Communication.Title or Communication.Message.
	Search string `query:"search"`
}

func (qf *QueryFilter) Clean() {
	qf.CourseID = core.CleanString(qf.CourseID, true /* lower */)
	qf.Status = Status(core.CleanString(string(qf.Status), true /* lower */))
	qf.Search = core.CleanString(qf.Search)
}

func (qf QueryFilter) IsEmpty() bool {
	return qf.CourseID == "" && qf.Status == "" && qf.FromDate.IsZero() && qf.ToDate.IsZero() && qf.Search == ""
}
