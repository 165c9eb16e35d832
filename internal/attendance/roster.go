package attendance

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Roster is the subject directory owned by the student/employee services.
type Roster interface {
	// Subjects lists every known student and employee.
	Subjects(ctx context.Context) ([]Subject, error)
	// Exists reports whether the subject is registered.
	Exists(ctx context.Context, s Subject) (bool, error)
}

// SQLRoster reads the students and employees tables.
type SQLRoster struct {
	db *sqlx.DB
}

func NewSQLRoster(db *sqlx.DB) *SQLRoster {
	return &SQLRoster{db: db}
}

func rosterTable(t SubjectType) (string, error) {
	switch t {
	case Student:
		return "students", nil
	case Employee:
		return "employees", nil
	}
	return "", fmt.Errorf("%w: subject_type %q", ErrInvalidSubject, t)
}

func (r *SQLRoster) Subjects(ctx context.Context) ([]Subject, error) {
	var subjects []Subject
	err := r.db.SelectContext(ctx, &subjects, `
		SELECT id AS subject_id, 'student' AS subject_type FROM students
		UNION ALL
		SELECT id AS subject_id, 'employee' AS subject_type FROM employees
		ORDER BY subject_type, subject_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	return subjects, nil
}

func (r *SQLRoster) Exists(ctx context.Context, s Subject) (bool, error) {
	table, err := rosterTable(s.Type)
	if err != nil {
		return false, err
	}
	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM `+table+` WHERE id = ?`), s.ID); err != nil {
		return false, fmt.Errorf("verify subject %s: %w", s.Key(), err)
	}
	return n > 0, nil
}

// Add registers a subject. The directory is owned elsewhere; this keeps edge nodes and
// tests able to populate their local copy.
func (r *SQLRoster) Add(ctx context.Context, s Subject, name string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	table, _ := rosterTable(s.Type)
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO `+table+` (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`), s.ID, name)
	return err
}
