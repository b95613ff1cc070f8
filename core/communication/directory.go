package communication

import (
	"context"

	"github.com/trezcool/masomo-comms/core"
)

// Directory maintains the courses and guardians communications refer to.
// They are owned by the school directory; this service only needs to seed them.
type Directory interface {
	SaveCourse(ctx context.Context, course Course, exec ...core.DBExecutor) error
	SaveGuardian(ctx context.Context, guardian Guardian, exec ...core.DBExecutor) error
	// EnrollGuardians links guardians to a course. Existing links are kept.
	EnrollGuardians(ctx context.Context, courseID string, guardianIDs []string, exec ...core.DBExecutor) error
}
