package warehouse

import (
	"errors"
	"fmt"
)

// Dialect is a backend's SQL surface: one statement text per role plus the
// DDL that creates the star schema.
type Dialect struct {
	Name       string
	Statements map[Statement]string

	// Schema holds CREATE statements in execution order.
	Schema []string

	// IsConstraint reports whether err is a constraint violation raised by
	// the backend driver.
	IsConstraint func(err error) bool
}

// Text returns the SQL for role.
func (d Dialect) Text(role Statement) (string, error) {
	q, ok := d.Statements[role]
	if !ok || q == "" {
		return "", fmt.Errorf("warehouse: dialect %s has no statement for %s", d.Name, role)
	}
	return q, nil
}

// Validate checks that every role has SQL text.
func (d Dialect) Validate() error {
	var errs []error
	for _, role := range Statements() {
		if _, err := d.Text(role); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConstraintError is a warehouse rejection of a row, e.g. a duplicate key on
// a table that does not upsert or a NOT NULL violation.
type ConstraintError struct {
	Statement Statement
	Err       error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("warehouse: %s: constraint violation: %v", e.Statement, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// WrapExecErr classifies a driver error raised while running role.
func (d Dialect) WrapExecErr(role Statement, err error) error {
	if err == nil {
		return nil
	}
	if d.IsConstraint != nil && d.IsConstraint(err) {
		return &ConstraintError{Statement: role, Err: err}
	}
	return fmt.Errorf("warehouse: %s: %w", role, err)
}
