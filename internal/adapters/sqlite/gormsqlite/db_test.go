package gormsqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestBuildDSNIncludesPerConnectionPragmas(t *testing.T) {
	reader := buildDSN("./db.sqlite", true)
	writer := buildDSN("./db.sqlite", false)

	checks := []string{
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_pragma=trusted_schema(OFF)",
	}
	for _, c := range checks {
		if !strings.Contains(reader, c) {
			t.Fatalf("reader dsn missing %q: %s", c, reader)
		}
		if !strings.Contains(writer, c) {
			t.Fatalf("writer dsn missing %q: %s", c, writer)
		}
	}

	if !strings.Contains(reader, "_pragma=query_only(1)") {
		t.Fatalf("reader dsn missing query_only(1): %s", reader)
	}
	if !strings.Contains(writer, "_pragma=query_only(0)") {
		t.Fatalf("writer dsn missing query_only(0): %s", writer)
	}
}

func TestOpenSplitsReadAndWrite(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.sqlite"), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	err = db.WriteTX(ctx, func(tx *Tx) error {
		if err := tx.Exec("CREATE TABLE probe (id INTEGER PRIMARY KEY, v TEXT)").Error; err != nil {
			return err
		}
		return tx.Exec("INSERT INTO probe (v) VALUES (?)", "x").Error
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	var count int64
	if err := db.ReadTX(ctx, func(tx *Tx) error {
		return tx.Table("probe").Count(&count).Error
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}

	err = db.ReadTX(ctx, func(tx *Tx) error {
		return tx.Exec("INSERT INTO probe (v) VALUES (?)", "y").Error
	})
	if err == nil {
		t.Fatalf("expected read handle to reject writes")
	}
}
