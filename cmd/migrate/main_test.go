package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
)

func TestMigrationFilenamePattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  string
		name     string
	}{
		{"0001_init_schema_migrations.sql", true, "0001", "init_schema_migrations"},
		{"001_invalid.sql", false, "", ""},       // wrong number format
		{"0001_test", false, "", ""},             // missing .sql
		{"0001.sql", false, "", ""},              // missing name
		{"invalid_0001_test.sql", false, "", ""}, // wrong order
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			matches := migrationPattern.FindStringSubmatch(tt.filename)
			if (matches != nil) != tt.valid {
				t.Fatalf("match = %v, want valid %v", matches, tt.valid)
			}
			if tt.valid && (matches[1] != tt.version || matches[2] != tt.name) {
				t.Errorf("got version %q name %q", matches[1], matches[2])
			}
		})
	}
}

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_second.sql": {Data: []byte("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.b` (id INT64);")},
		"m/0001_first.sql":  {Data: []byte("CREATE TABLE a (id INT64);")},
		"m/README.md":       {Data: []byte("notes")},
	}

	migrations, err := readMigrations(fsys, "m", map[string]string{"PROJECT_ID": "proj", "DATASET_ID": "ds"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("readMigrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Errorf("migrations not sorted: %d, %d", migrations[0].Version, migrations[1].Version)
	}
	if !strings.Contains(migrations[1].SQL, "`proj.ds.b`") {
		t.Errorf("placeholders not replaced: %s", migrations[1].SQL)
	}

	// The checksum ignores placeholder values.
	again, err := readMigrations(fsys, "m", map[string]string{"PROJECT_ID": "other", "DATASET_ID": "ds"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("readMigrations: %v", err)
	}
	if again[1].Checksum != migrations[1].Checksum {
		t.Error("checksum should not depend on placeholders")
	}
	if migrations[0].Checksum == migrations[1].Checksum {
		t.Error("different content should have different checksums")
	}
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0001_a.sql": {Data: []byte("SELECT 1;")},
		"m/0001_b.sql": {Data: []byte("SELECT 2;")},
	}
	if _, err := readMigrations(fsys, "m", nil, zerolog.Nop()); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, target := range []string{targetPostgres, targetBigQuery} {
		t.Run(target, func(t *testing.T) {
			migrations, err := readMigrations(migrationFiles, "migrations/"+target, map[string]string{"PROJECT_ID": "p", "DATASET_ID": "d"}, zerolog.Nop())
			if err != nil {
				t.Fatalf("readMigrations: %v", err)
			}
			if len(migrations) == 0 {
				t.Fatal("no embedded migrations")
			}
			for _, m := range migrations {
				if strings.Contains(m.SQL, "{{") {
					t.Errorf("%s has unreplaced placeholders", m.Filename)
				}
			}
		})
	}
}

// MockMigrator records applied migrations in memory.
type MockMigrator struct {
	applied  []AppliedMigration
	ApplyErr error
	ensured  bool
}

func (m *MockMigrator) EnsureSchemaTable(ctx context.Context) error {
	m.ensured = true
	return nil
}

func (m *MockMigrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	return m.applied, nil
}

func (m *MockMigrator) Apply(ctx context.Context, mig Migration, appliedBy string) error {
	if m.ApplyErr != nil {
		return m.ApplyErr
	}
	m.applied = append(m.applied, AppliedMigration{Version: mig.Version, Name: mig.Name, Checksum: mig.Checksum, AppliedBy: appliedBy})
	return nil
}

func TestApplyPending(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "first", Checksum: "a"},
		{Version: 2, Name: "second", Checksum: "b"},
	}
	m := &MockMigrator{applied: []AppliedMigration{{Version: 1, Name: "first", Checksum: "a"}}}

	count, err := applyPending(context.Background(), m, migrations, "test", zerolog.Nop())
	if err != nil {
		t.Fatalf("applyPending: %v", err)
	}
	if !m.ensured {
		t.Error("schema table was not ensured")
	}
	if count != 1 {
		t.Errorf("applied %d, want 1", count)
	}
	if len(m.applied) != 2 || m.applied[1].Version != 2 || m.applied[1].AppliedBy != "test" {
		t.Errorf("unexpected applied set: %+v", m.applied)
	}

	// A second run is a no-op.
	count, err = applyPending(context.Background(), m, migrations, "test", zerolog.Nop())
	if err != nil || count != 0 {
		t.Errorf("second run: count %d, err %v", count, err)
	}
}

func TestApplyPending_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	m := &MockMigrator{ApplyErr: boom}

	count, err := applyPending(context.Background(), m, []Migration{{Version: 1, Name: "first"}}, "test", zerolog.Nop())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}
