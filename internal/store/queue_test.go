package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsForeignKeyViolation(t *testing.T) {
	fk := &pgconn.PgError{Code: "23503", ConstraintName: "analysis_jobs_transcript_id_fkey"}
	if !isForeignKeyViolation(fk) {
		t.Fatal("23503 must be detected")
	}
	if !isForeignKeyViolation(fmt.Errorf("insert job: %w", fk)) {
		t.Fatal("wrapped 23503 must be detected")
	}
	if isForeignKeyViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("unique violation is not a missing transcript")
	}
	if isForeignKeyViolation(errors.New("connection refused")) {
		t.Fatal("plain errors must not match")
	}
}
