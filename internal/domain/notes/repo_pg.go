package notes

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/genmed/genmed/internal/platform/db"
)

type noteRepoPG struct {
	pool *pgxpool.Pool
}

func NewNoteRepo(pool *pgxpool.Pool) Repository {
	return &noteRepoPG{pool: pool}
}

func (r *noteRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const noteCols = `id, user_email, patient_name, transcription, note, language,
	is_critical, diagnosis, prescription, created_at`

func (r *noteRepoPG) scanRow(row pgx.Row) (*Note, error) {
	var n Note
	var body []byte
	err := row.Scan(&n.ID, &n.UserEmail, &n.PatientName, &n.Transcription, &body,
		&n.Language, &n.IsCritical, &n.Diagnosis, &n.Prescription, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.Note = body
	return &n, nil
}

func (r *noteRepoPG) Create(ctx context.Context, n *Note) error {
	n.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinical_note (
			id, user_email, patient_name, transcription, note, language,
			is_critical, diagnosis, prescription
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		n.ID, n.UserEmail, n.PatientName, n.Transcription, []byte(n.Note), n.Language,
		n.IsCritical, n.Diagnosis, n.Prescription,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("create note: %w", err)
	}
	return nil
}

func (r *noteRepoPG) AttachPrescriptionToLatest(ctx context.Context, email, diagnosis, prescription string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_note SET diagnosis = $2, prescription = $3
		WHERE id = (
			SELECT id FROM clinical_note
			WHERE user_email = $1
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)`,
		email, diagnosis, prescription)
	if err != nil {
		return false, fmt.Errorf("attach prescription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *noteRepoPG) ListByOwner(ctx context.Context, email string, limit, offset int) ([]*Note, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+noteCols+` FROM clinical_note
		WHERE user_email = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		email, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	out := []*Note{}
	for rows.Next() {
		n, err := r.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return out, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
