package journal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opentalon/panelpilot/internal/config"
	"github.com/opentalon/panelpilot/internal/origin"
	"github.com/opentalon/panelpilot/internal/provision"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), config.JournalConfig{Driver: DriverSQLite, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenAndMigrations(t *testing.T) {
	dir := t.TempDir()
	cfg := config.JournalConfig{Driver: DriverSQLite, DataDir: dir}
	db, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var v int
	if err := db.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v); err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if v != 1 {
		t.Errorf("schema_version = %d, want 1", v)
	}
	_ = db.Close()

	// Re-open: idempotent
	db2, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open again: %v", err)
	}
	defer db2.Close()
	if err := db2.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v); err != nil || v != 1 {
		t.Errorf("schema_version after re-open = %d (%v), want 1", v, err)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, config.JournalConfig{Driver: DriverSQLite}); err == nil {
		t.Error("expected error without data_dir")
	}
	if _, err := Open(ctx, config.JournalConfig{Driver: DriverPostgres}); err == nil {
		t.Error("expected error without dsn")
	}
	if _, err := Open(ctx, config.JournalConfig{Driver: "mysql"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestRebind(t *testing.T) {
	q := "INSERT INTO t (a, b) VALUES (?, ?)"
	if got := (&DB{driver: DriverSQLite}).rebind(q); got != q {
		t.Errorf("sqlite rebind = %q", got)
	}
	if got := (&DB{driver: DriverPostgres}).rebind(q); got != "INSERT INTO t (a, b) VALUES ($1, $2)" {
		t.Errorf("postgres rebind = %q", got)
	}
}

func session(id, name string, phase provision.Phase, ended time.Time) provision.Session {
	return provision.Session{
		ID:        id,
		Target:    provision.Target{ServerID: 7, Identifier: "abcd1234", Name: name},
		StartedAt: ended.Add(-3 * time.Minute),
		Phase:     phase,
		Polls:     9,
		EndedAt:   ended,
	}
}

func TestRecordAndRecent(t *testing.T) {
	j := New(openTemp(t))
	ctx := context.Background()
	to := origin.Origin{Channel: "console", Conversation: "local"}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := j.Record(ctx, session("s1", "survival", provision.PhaseSucceeded, base), to); err != nil {
		t.Fatalf("Record: %v", err)
	}
	failed := session("s2", "creative", provision.PhaseFailed, base.Add(time.Minute))
	failed.Cause = errors.New("panel GET /servers: status 403: forbidden")
	if err := j.Record(ctx, failed, to); err != nil {
		t.Fatalf("Record: %v", err)
	}
	// duplicate is ignored
	if err := j.Record(ctx, failed, to); err != nil {
		t.Fatalf("Record duplicate: %v", err)
	}

	entries, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].SessionID != "s2" || entries[0].Phase != provision.PhaseFailed {
		t.Errorf("newest entry = %+v", entries[0])
	}
	if entries[0].Cause == "" {
		t.Error("cause should be stored")
	}
	if entries[1].Target.Name != "survival" || entries[1].Origin != to {
		t.Errorf("oldest entry = %+v", entries[1])
	}
	if !entries[1].EndedAt.Equal(base) || entries[1].StartedAt.IsZero() {
		t.Errorf("times not round-tripped: %v / %v", entries[1].StartedAt, entries[1].EndedAt)
	}
}

func TestRecordRejectsRunningSession(t *testing.T) {
	j := New(openTemp(t))
	err := j.Record(context.Background(), session("s1", "x", provision.PhaseInstalling, time.Now()), origin.Origin{})
	if err == nil {
		t.Fatal("expected error for non-terminal session")
	}
}

func TestRecentRejectsMalformedTime(t *testing.T) {
	db := openTemp(t)
	_, err := db.db.Exec(`INSERT INTO provisioning_outcomes
		(id, server_id, identifier, name, phase, started_at, ended_at)
		VALUES ('bad', 1, 'abcd1234', 'survival', 'succeeded', 'yesterday', '2026-03-01T12:00:00.000000000Z')`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err = New(db).Recent(context.Background(), 10)
	if err == nil {
		t.Fatal("expected error for a row with an unparseable started_at")
	}
	if !strings.Contains(err.Error(), "bad") || !strings.Contains(err.Error(), "started_at") {
		t.Errorf("error = %v, want session id and column", err)
	}
}

func TestRecordKeepsLastPanelErrorOfTimedOutSession(t *testing.T) {
	j := New(openTemp(t))
	ctx := context.Background()
	s := session("s1", "survival", provision.PhaseTimedOut, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s.LastError = errors.New("sending start: status 404")
	if err := j.Record(ctx, s, origin.Origin{}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	entries, err := j.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Cause != "sending start: status 404" {
		t.Errorf("entries = %+v", entries)
	}
}
