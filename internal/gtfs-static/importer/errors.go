package importer

import (
	"errors"
	"fmt"

	"github.com/horarios-data/pkg/gtfs-static/models"
)

// ErrIntegrity marks a row rejected because it references a missing parent
// or carries an invalid field.
var ErrIntegrity = errors.New("integrity violation")

type IntegrityError struct {
	Kind   models.EntityKind
	Key    string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Key, e.Reason)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// MergeResult is the outcome of merging one batch of a single kind.
type MergeResult struct {
	Kind     models.EntityKind
	Inserted int
	Skipped  int
	Rejected []*IntegrityError
}

func (r MergeResult) Summary() models.KindSummary {
	return models.KindSummary{
		Kind:     r.Kind,
		Inserted: r.Inserted,
		Skipped:  r.Skipped,
		Rejected: len(r.Rejected),
	}
}
