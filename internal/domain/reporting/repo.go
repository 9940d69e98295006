package reporting

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows the event listing. Zero values mean "no filter".
type ListFilter struct {
	PatientID      uuid.UUID
	PractitionerID uuid.UUID
	SourceType     string
	From           time.Time
	To             time.Time
}

type Repository interface {
	// Upsert writes the event keyed by (source_id, source_type). A second
	// call for the same source replaces the derived fields; it never
	// creates a duplicate row.
	Upsert(ctx context.Context, ev *MedicalEvent) error
	GetBySource(ctx context.Context, sourceID uuid.UUID, sourceType string) (*MedicalEvent, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*MedicalEvent, int, error)
}
