package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/use-agent/seibro/models"
)

func ptr(f float64) *float64 { return &f }

func sampleRows(title string) []models.RowRecord {
	return []models.RowRecord{
		{Title: title, Date: "2022/03/04", ExerciseAmount: ptr(1500000000), ExerciseShares: ptr(120000), ExercisePrice: ptr(12500.5), ListingDate: "2022/03/18"},
		{Title: title, Date: "2022/04/01", ListingDate: "2022/04/15"},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func TestRecord(t *testing.T) {
	rows := sampleRows("에이비씨")
	want := []string{"에이비씨", "2022/03/04", "1500000000", "120000", "12500.5", "2022/03/18"}
	if got := Record(rows[0]); !reflect.DeepEqual(got, want) {
		t.Errorf("Record = %q, want %q", got, want)
	}
	if got := Record(rows[1]); got[2] != "" || got[3] != "" || got[4] != "" {
		t.Errorf("nil numbers should be empty cells: %q", got)
	}
}

func TestCSV_HeaderOnceAndReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := os.WriteFile(path, []byte("stale,data\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, sampleRows("가")); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, sampleRows("나")); err != nil {
		t.Fatal(err)
	}

	recs := readCSV(t, path)
	if len(recs) != 5 {
		t.Fatalf("records = %d, want header + 4", len(recs))
	}
	if !reflect.DeepEqual(recs[0], Columns) {
		t.Errorf("header = %q", recs[0])
	}
	if recs[3][0] != "나" {
		t.Errorf("rows out of order: %q", recs[3])
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, sampleRows("다")[:1]); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	recs = readCSV(t, path)
	if len(recs) != 2 || recs[1][0] != "다" {
		t.Errorf("after reset = %q", recs)
	}
}

func TestCSV_EmptyRunKeepsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := NewCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Close()
	if recs := readCSV(t, path); len(recs) != 1 {
		t.Errorf("records = %q, want header only", recs)
	}
}

func TestJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	s, err := Open(FormatJSONL, path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.Append(ctx, sampleRows("가")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var got []models.RowRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r models.RowRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		got = append(got, r)
	}
	if len(got) != 2 || *got[0].ExerciseAmount != 1500000000 || got[1].ExerciseAmount != nil {
		t.Errorf("decoded = %+v", got)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		format  string
		wantErr bool
	}{
		{"csv", false},
		{"", false},
		{"JSONL", false},
		{"xlsx", true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			s, err := Open(tt.format, filepath.Join(dir, "out"+tt.format))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if models.CodeOf(err) != models.ErrCodeInvalidInput {
					t.Errorf("code = %s", models.CodeOf(err))
				}
				return
			}
			s.Close()
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]string{
		"out.csv":     FormatCSV,
		"OUT.JSONL":   FormatJSONL,
		"rows.ndjson": FormatJSONL,
		"noext":       FormatCSV,
	}
	for in, want := range tests {
		if got := FormatFromPath(in); got != want {
			t.Errorf("FormatFromPath(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Append(context.Background(), sampleRows("x"))
			_ = m.Rows()
		}()
	}
	wg.Wait()
	if m.Len() != 16 {
		t.Errorf("len = %d, want 16", m.Len())
	}
	m.Reset(context.Background())
	if m.Len() != 0 {
		t.Error("reset did not clear")
	}
}
