package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrOperatorNotFound      = errors.New("operator not found")
	ErrOperatorAlreadyExists = errors.New("operator already exists")
)

// Operator is an admin API account.
type Operator struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// OperatorRepository manages admin API accounts.
type OperatorRepository struct {
	db *Database
}

func NewOperatorRepository(db *Database) *OperatorRepository {
	return &OperatorRepository{db: db}
}

// Create inserts a new operator.
func (r *OperatorRepository) Create(ctx context.Context, op *Operator) error {
	op.ID = uuid.New()
	op.CreatedAt = time.Now()

	query := `
		INSERT INTO operators (id, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool.Exec(ctx, query, op.ID, op.Email, op.PasswordHash, op.Role, op.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrOperatorAlreadyExists
		}
		return err
	}
	return nil
}

// GetByEmail retrieves an operator by email.
func (r *OperatorRepository) GetByEmail(ctx context.Context, email string) (*Operator, error) {
	query := `
		SELECT id, email, password_hash, role, created_at
		FROM operators
		WHERE email = $1
	`
	return r.scanOne(r.db.Pool.QueryRow(ctx, query, email))
}

// GetByID retrieves an operator by id.
func (r *OperatorRepository) GetByID(ctx context.Context, id uuid.UUID) (*Operator, error) {
	query := `
		SELECT id, email, password_hash, role, created_at
		FROM operators
		WHERE id = $1
	`
	return r.scanOne(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *OperatorRepository) scanOne(row pgx.Row) (*Operator, error) {
	op := &Operator{}
	err := row.Scan(&op.ID, &op.Email, &op.PasswordHash, &op.Role, &op.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOperatorNotFound
		}
		return nil, err
	}
	return op, nil
}
