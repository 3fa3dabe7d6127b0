package notes

import "context"

type Repository interface {
	Create(ctx context.Context, n *Note) error
	// AttachPrescriptionToLatest sets diagnosis and prescription on the
	// owner's most recent note. It reports false when the owner has none.
	AttachPrescriptionToLatest(ctx context.Context, email, diagnosis, prescription string) (bool, error)
	// ListByOwner returns the owner's notes, newest first.
	ListByOwner(ctx context.Context, email string, limit, offset int) ([]*Note, error)
}
