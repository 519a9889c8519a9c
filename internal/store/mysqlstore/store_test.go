package mysqlstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	"rollcall/internal/attendance"
)

func TestUpsertResultFromAffectedRows(t *testing.T) {
	tests := map[int64]attendance.UpsertResult{
		0: attendance.Conflict,
		1: attendance.Inserted,
		2: attendance.Updated,
	}
	for affected, want := range tests {
		if got := upsertResult(affected); got != want {
			t.Errorf("upsertResult(%d) = %s, want %s", affected, got, want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		kind string
	}{
		{&mysql.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry"}, "constraint"},
		{fmt.Errorf("exec: %w", &mysql.MySQLError{Number: errDeadlock}), "busy"},
		{&mysql.MySQLError{Number: errLockWaitTimeout}, "busy"},
		{mysql.ErrInvalidConn, "unavailable"},
		{errors.New("dial tcp: connection refused"), "unavailable"},
	}
	for _, tt := range tests {
		var classifier attendance.ErrorClassifier
		if !errors.As(classify(tt.err), &classifier) || classifier.ErrorKind() != tt.kind {
			t.Errorf("classify(%v) kind mismatch, want %s", tt.err, tt.kind)
		}
	}
	if classify(nil) != nil {
		t.Error("classify(nil) must be nil")
	}
}

func TestSessionlessMarkNeedsPresenceTable(t *testing.T) {
	s := &Store{loc: time.UTC}
	_, err := s.UpsertMark(context.Background(), attendance.Mark{IdentityID: 1})
	var classifier attendance.ErrorClassifier
	if !errors.As(err, &classifier) || classifier.ErrorKind() != "constraint" {
		t.Fatalf("expected constraint error, got %v", err)
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), "", Options{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
