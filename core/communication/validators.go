package communication

import (
	"context"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-comms/core"
)

var (
	statusTag  = "comm_status"
	statusText = "{0} must be one of: draft, scheduled, sent"

	updateStatusTag  = "comm_update_status"
	updateStatusText = "{0} must be one of: draft, scheduled"
)

// InitValidators registers the communication validation tags.
// core.InitValidators must have been called on validate first.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(statusTag, statusValidation)
	core.RegisterCustomTranslation(validate, translator, statusTag, statusText)

	_ = validate.RegisterValidation(updateStatusTag, updateStatusValidation)
	core.RegisterCustomTranslation(validate, translator, updateStatusTag, updateStatusText)
}

func statusValidation(fl validator.FieldLevel) bool {
	return Status(fl.Field().String()).IsValid()
}

func updateStatusValidation(fl validator.FieldLevel) bool {
	return Status(fl.Field().String()).isUpdatable()
}

// Validate cleans the input, checks its shape then checks that the referenced course and guardians exist.
func (nc *NewCommunication) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nc.clean()
	if nc.GuardianIDs != nil { // nil means the course's guardians
		nc.GuardianIDs = core.UniqueStrings(nc.GuardianIDs)
	}

	if err := validate.Struct(nc); err != nil {
		return err
	}
	return svc.CheckReferences(ctx, nc.CourseID, nc.GuardianIDs)
}

// Validate cleans the input, checks its shape then checks that the referenced course and guardians exist.
func (uc *UpdateCommunication) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	uc.clean()
	if uc.GuardianIDs != nil {
		ids := core.UniqueStrings(*uc.GuardianIDs)
		uc.GuardianIDs = &ids
	}

	if err := validate.Struct(uc); err != nil {
		return err
	}

	var (
		courseID    string
		guardianIDs []string
	)
	if uc.CourseID != nil {
		courseID = *uc.CourseID
	}
	if uc.GuardianIDs != nil {
		guardianIDs = *uc.GuardianIDs
	}
	return svc.CheckReferences(ctx, courseID, guardianIDs)
}

func (qf *QueryFilter) Validate(validate *validator.Validate) error {
	qf.Clean()
	return validate.Struct(qf)
}
