package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/statement-analyzer/internal/config"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

func TestFileName(t *testing.T) {
	tests := []struct {
		bank, date string
		want       string
		wantErr    bool
	}{
		{"Chase", "01/31/2024", "Chase_01-31-2024.json", false},
		{" Barclays ", "2024-01", "Barclays_2024-01.json", false},
		{"", "01/31/2024", "", true},
		{"Chase", "", "", true},
		{"Big_Bank", "01/31/2024", "", true},
		{"../etc", "01/31/2024", "", true},
		{"Chase", "01/31/2024_x", "", true},
		{"Chase", "..", "", true},
	}

	for _, tt := range tests {
		got, err := FileName(tt.bank, tt.date)
		if (err != nil) != tt.wantErr {
			t.Errorf("FileName(%q, %q) error = %v, wantErr %v", tt.bank, tt.date, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidName) {
			t.Errorf("error should wrap ErrInvalidName: %v", err)
		}
		if got != tt.want {
			t.Errorf("FileName(%q, %q) = %q, want %q", tt.bank, tt.date, got, tt.want)
		}
	}
}

func TestParseFileName(t *testing.T) {
	got, err := ParseFileName("Chase_01-31-2024.json")
	if err != nil {
		t.Fatalf("ParseFileName failed: %v", err)
	}
	want := Summary{FileName: "Chase_01-31-2024.json", BankName: "Chase", StatementDate: "01/31/2024"}
	if got != want {
		t.Errorf("ParseFileName() = %+v, want %+v", got, want)
	}

	for _, bad := range []string{"Chase.json", "../Chase_1.json", "Chase_1.txt", "_1.json", "a/b_1.json"} {
		if _, err := ParseFileName(bad); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ParseFileName(%q) error = %v, want ErrInvalidName", bad, err)
		}
	}
}

func TestSaved_MarshalJSON(t *testing.T) {
	s := &Saved{
		Summary:  Summary{FileName: "Chase_01-31-2024.json", BankName: "Chase", StatementDate: "01/31/2024"},
		Analysis: json.RawMessage(`{"analysis":"# Report","bankName":"stale"}`),
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got["bankName"] != "Chase" || got["statementDate"] != "01/31/2024" || got["analysis"] != "# Report" {
		t.Errorf("merged document = %v", got)
	}
}

func TestSaved_Result(t *testing.T) {
	s := &Saved{Analysis: json.RawMessage(`{"analysis":"ok","transactions":{"Jan":{"transactions":[{"date":"2024-01-02","description":"x","amount":-5}],"summary":{"totalExpenses":5}}}}`)}
	res, err := s.Result()
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	rec, ok := res.Transactions.Get("Jan")
	if !ok || len(rec.Transactions) != 1 || rec.Summary.TotalExpenses != 5 {
		t.Errorf("Jan = %+v, %v", rec, ok)
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "analyses")
	s := NewFileStore(dir)

	list, err := s.List(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("List on a missing dir = %v, %v", list, err)
	}

	name, err := s.Save(ctx, SaveRequest{BankName: "Chase", StatementDate: "01/31/2024", Analysis: json.RawMessage(`{"analysis":"a"}`)})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if name != "Chase_01-31-2024.json" {
		t.Errorf("name = %q", name)
	}
	if _, err := s.Save(ctx, SaveRequest{BankName: "Amex", StatementDate: "02/29/2024", Analysis: json.RawMessage(`{"analysis":"b"}`)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// Overwrite keeps one file.
	if _, err := s.Save(ctx, SaveRequest{BankName: "Chase", StatementDate: "01/31/2024", Analysis: json.RawMessage(`{"analysis":"c"}`)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(raw), "\n  \"analysis\": \"c\"") {
		t.Errorf("file should be pretty-printed and overwritten: %s", raw)
	}

	list, err = s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []Summary{
		{FileName: "Amex_02-29-2024.json", BankName: "Amex", StatementDate: "02/29/2024"},
		{FileName: "Chase_01-31-2024.json", BankName: "Chase", StatementDate: "01/31/2024"},
	}
	if !reflect.DeepEqual(list, want) {
		t.Errorf("List() = %+v, want %+v", list, want)
	}

	got, err := s.Get(ctx, name)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.BankName != "Chase" || !strings.Contains(string(got.Analysis), `"c"`) {
		t.Errorf("Get() = %+v", got)
	}

	if _, err := s.Get(ctx, "Nope_01-01-2024.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get(ctx, "../secret.json"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
}

func TestFileStore_SaveValidation(t *testing.T) {
	s := NewFileStore(t.TempDir())
	tests := []struct {
		name string
		req  SaveRequest
		want error
	}{
		{"missing analysis", SaveRequest{BankName: "A", StatementDate: "1/1/2024"}, pipeline.ErrInput},
		{"null analysis", SaveRequest{BankName: "A", StatementDate: "1/1/2024", Analysis: json.RawMessage("null")}, pipeline.ErrInput},
		{"bad bank", SaveRequest{BankName: "A_B", StatementDate: "1/1/2024", Analysis: json.RawMessage(`{}`)}, ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Save(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Save() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// MockBucket is an in-memory Bucket.
type MockBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *MockBucket) Write(ctx context.Context, name string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	b.objects[name] = append([]byte(nil), data...)
	return nil
}

func (b *MockBucket) Read(ctx context.Context, name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[name]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (b *MockBucket) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for name := range b.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

func TestGCSStore(t *testing.T) {
	ctx := context.Background()
	bucket := &MockBucket{}
	s := NewGCSStore(bucket, "analyses")

	name, err := s.Save(ctx, SaveRequest{BankName: "Chase", StatementDate: "01/31/2024", Analysis: json.RawMessage(`{"analysis":"a"}`)})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, ok := bucket.objects["analyses/"+name]; !ok {
		t.Errorf("object not written under prefix: %v", bucket.objects)
	}
	_ = bucket.Write(ctx, "analyses/nested/Other_1-1-2024.json", []byte(`{}`), "")
	_ = bucket.Write(ctx, "analyses/notes.txt", []byte(`x`), "")

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].StatementDate != "01/31/2024" {
		t.Errorf("List() = %+v", list)
	}

	if _, err := s.Get(ctx, "Missing_1-1-2024.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDirBucket(t *testing.T) {
	ctx := context.Background()
	b := NewDirBucket(filepath.Join(t.TempDir(), "uploads"))

	names, err := b.List(ctx, "")
	if err != nil || len(names) != 0 {
		t.Fatalf("List on missing root = %v, %v", names, err)
	}

	if err := b.Write(ctx, "a/one.pdf", []byte("1"), "application/pdf"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := b.Write(ctx, "two.pdf", []byte("2"), "application/pdf"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := b.Read(ctx, "a/one.pdf")
	if err != nil || string(data) != "1" {
		t.Errorf("Read = %q, %v", data, err)
	}
	names, _ = b.List(ctx, "a/")
	if !reflect.DeepEqual(names, []string{"a/one.pdf"}) {
		t.Errorf("List(a/) = %v", names)
	}

	if _, err := b.Read(ctx, "missing.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	for _, bad := range []string{"", "../escape.pdf", "/abs.pdf"} {
		if err := b.Write(ctx, bad, nil, ""); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Write(%q) = %v, want ErrInvalidName", bad, err)
		}
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	opened, err := Open(context.Background(), config.StoreConfig{
		Backend:   config.BackendFile,
		Dir:       filepath.Join(dir, "analyses"),
		UploadDir: filepath.Join(dir, "uploads"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer opened.Close()

	if _, ok := opened.Analyses.(*FileStore); !ok {
		t.Errorf("Analyses = %T, want *FileStore", opened.Analyses)
	}
	if _, ok := opened.Uploads.(*DirBucket); !ok {
		t.Errorf("Uploads = %T, want *DirBucket", opened.Uploads)
	}

	if _, err := Open(context.Background(), config.StoreConfig{Backend: "s3"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestPostgresStore_Integration(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	ctx := context.Background()
	db, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres failed: %v", err)
	}
	defer db.Close()

	table := "analyses_test_" + time.Now().UTC().Format("20060102150405")
	if _, err := db.ExecContext(ctx, `CREATE TABLE `+table+` (
		file_name TEXT PRIMARY KEY,
		bank_name TEXT NOT NULL,
		statement_date TEXT NOT NULL,
		analysis JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	defer db.ExecContext(ctx, `DROP TABLE `+table)

	s := NewPostgresStore(db, WithAnalysesTable(table))
	req := SaveRequest{BankName: "Chase", StatementDate: "01/31/2024", Analysis: json.RawMessage(`{"analysis":"a"}`)}
	if _, err := s.Save(ctx, req); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	req.Analysis = json.RawMessage(`{"analysis":"b"}`)
	name, err := s.Save(ctx, req)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	list, err := s.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %+v, %v", list, err)
	}
	got, err := s.Get(ctx, name)
	if err != nil || !strings.Contains(string(got.Analysis), `"b"`) {
		t.Errorf("Get() = %+v, %v", got, err)
	}
	if _, err := s.Get(ctx, "Missing_1-1-2024.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
