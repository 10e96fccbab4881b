package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultSelectors_Validate(t *testing.T) {
	if err := DefaultSelectors().Validate(); err != nil {
		t.Fatalf("default selectors should validate: %v", err)
	}
}

func TestSelectors_Validate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Selectors)
		want   string
	}{
		{"empty details url", func(s *Selectors) { s.DetailsURL = " " }, "details_url"},
		{"empty grid body", func(s *Selectors) { s.GridBody = "" }, "grid_body"},
		{"broken locator", func(s *Selectors) { s.NextPage = "#a[" }, "next_page"},
		{"row format without verb", func(s *Selectors) { s.CandidateRowFormat = "#isinList_ROW" }, "candidate_row_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSelectors()
			tt.mutate(&s)
			err := s.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should name %q", err, tt.want)
			}
		})
	}
}

func TestSelectors_CandidateRow(t *testing.T) {
	got := DefaultSelectors().CandidateRow(4)
	if got != "#isinList_4_ISIN_ROW" {
		t.Errorf("CandidateRow(4) = %q", got)
	}
}

func TestLoadSelectors_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	content := "grid_body: \"#other_tbody\"\nnext_page: \"#next\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	sel, err := LoadSelectors(path)
	if err != nil {
		t.Fatalf("LoadSelectors: %v", err)
	}
	if sel.GridBody != "#other_tbody" || sel.NextPage != "#next" {
		t.Errorf("override not applied: %+v", sel)
	}
	if sel.DetailsURL != DefaultSelectors().DetailsURL {
		t.Errorf("unset key lost its default: %q", sel.DetailsURL)
	}
}

func TestLoadSelectors_MissingFile(t *testing.T) {
	if _, err := LoadSelectors(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SEIBRO_WORKERS", "5")
	t.Setenv("SEIBRO_LAUNCH_DELAY", "250ms")
	t.Setenv("SEIBRO_HEADLESS", "false")
	t.Setenv("SEIBRO_API_KEYS", "a, b ,,c")
	t.Setenv("SEIBRO_MAX_RETRIES", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Orchestrator.Concurrency != 5 {
		t.Errorf("Concurrency = %d, want 5", cfg.Orchestrator.Concurrency)
	}
	if cfg.Orchestrator.LaunchDelay != 250*time.Millisecond {
		t.Errorf("LaunchDelay = %v", cfg.Orchestrator.LaunchDelay)
	}
	if cfg.Browser.Headless {
		t.Error("Headless should be false")
	}
	if got := strings.Join(cfg.Auth.APIKeys, "|"); got != "a|b|c" {
		t.Errorf("APIKeys = %q", got)
	}
	if cfg.Workflow.MaxRetries != 3 {
		t.Errorf("malformed value should fall back to default, got %d", cfg.Workflow.MaxRetries)
	}
}

func TestLoad_InvalidSelectorsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	if err := os.WriteFile(path, []byte("grid_body: \"tbody[\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SEIBRO_SELECTORS_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected Load to reject an invalid locator")
	}
}

func TestNormalize(t *testing.T) {
	w := WorkflowConfig{}
	w.Normalize()
	if w.MaxRetries != 1 || w.MaxSearchRetries != 1 || w.PageSize != 15 {
		t.Errorf("workflow normalize: %+v", w)
	}

	o := OrchestratorConfig{}
	o.Normalize()
	if o.Concurrency != 1 || o.PollInterval != 500*time.Millisecond || o.JoinTimeout != 10*time.Second {
		t.Errorf("orchestrator normalize: %+v", o)
	}
}
