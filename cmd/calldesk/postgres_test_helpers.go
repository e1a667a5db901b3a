package main

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func requirePostgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("CALLDESK_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("CALLDESK_TEST_POSTGRES_DSN is not set")
	}
	return dsn
}

func deletePostgresCallsByRoomPrefix(t *testing.T, dsn, roomPrefix string) {
	t.Helper()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres cleanup connection: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close postgres cleanup connection: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, `DELETE FROM calls WHERE room_name LIKE $1`, roomPrefix+"%"); err != nil {
		t.Fatalf("cleanup postgres calls for prefix %q: %v", roomPrefix, err)
	}
}
