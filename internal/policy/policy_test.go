package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/robert-at-pretension-io/fabricdb/internal/verify"
)

func sampleReport() *verify.Report {
	return &verify.Report{
		Part: "toy4",
		Mismatches: []verify.Mismatch{
			{Kind: verify.KindMissingPip, Location: "CLB_X0Y0/O<-I", Expected: "pip", Observed: "absent"},
			{Kind: verify.KindUnclaimedPip, Location: "CLB_X1Y0/O<-CLK", Expected: "claimed", Observed: "unclaimed"},
			{Kind: verify.KindUnclaimedNode, Location: "node 7", Expected: "claimed", Observed: "unclaimed"},
			{Kind: verify.KindUnclaimedSite, Location: "IOB_X0Y0/PAD0"},
		},
	}
}

func newEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestDefaultSeverities(t *testing.T) {
	e := newEngine(t, "")
	res, err := e.Evaluate(context.Background(), InputFor("toy4", sampleReport(), nil, nil))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := Summary{Total: 4, Errors: 1, Warnings: 2, Info: 1}
	if res.Summary != want {
		t.Fatalf("summary = %+v, want %+v", res.Summary, want)
	}
	if !res.Failed() {
		t.Fatalf("expected a failing result")
	}
	if len(res.Findings) != 4 {
		t.Fatalf("findings = %d, want 4", len(res.Findings))
	}
	got := res.Findings[0]
	if got.Location != "CLB_X0Y0/O<-I" || got.Rule != "missing_pip" || got.Device != "toy4" {
		t.Fatalf("first finding = %+v", got)
	}
	if got.Message != "CLB_X0Y0/O<-I: expected pip, observed absent" {
		t.Fatalf("message = %q", got.Message)
	}
	for _, f := range res.Findings {
		if f.Location == "IOB_X0Y0/PAD0" && f.Message != "IOB_X0Y0/PAD0: unclaimed_site" {
			t.Fatalf("site message = %q", f.Message)
		}
	}
}

func TestRuleOverrides(t *testing.T) {
	tests := []struct {
		name   string
		rules  map[string]string
		ignore []string
		want   Summary
	}{
		{
			name:  "demote",
			rules: map[string]string{"missing_pip": "warning"},
			want:  Summary{Total: 4, Warnings: 3, Info: 1},
		},
		{
			name:  "off",
			rules: map[string]string{"unclaimed_pip": "off", "unclaimed_node": "off"},
			want:  Summary{Total: 2, Errors: 1, Warnings: 1},
		},
		{
			name:   "ignore_location",
			ignore: []string{"CLB_"},
			want:   Summary{Total: 2, Warnings: 1, Info: 1},
		},
		{
			name:  "promote",
			rules: map[string]string{"unclaimed_node": "error"},
			want:  Summary{Total: 4, Errors: 2, Warnings: 2},
		},
	}

	e := newEngine(t, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Evaluate(context.Background(), InputFor("toy4", sampleReport(), tt.rules, tt.ignore))
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if res.Summary != tt.want {
				t.Fatalf("summary = %+v, want %+v", res.Summary, tt.want)
			}
			if len(res.Findings) != tt.want.Total {
				t.Fatalf("findings = %d, want %d", len(res.Findings), tt.want.Total)
			}
		})
	}
}

func TestCleanReport(t *testing.T) {
	e := newEngine(t, "")
	res, err := e.Evaluate(context.Background(), InputFor("toy4", &verify.Report{Part: "toy4"}, nil, nil))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Failed() || res.Summary.Total != 0 || len(res.Findings) != 0 {
		t.Fatalf("expected no findings, got %+v", res)
	}
}

func TestExtraModules(t *testing.T) {
	dir := t.TempDir()
	extra := `package fabricdb.triage

import rego.v1

findings contains f if {
	count(input.mismatches) > 3
	f := {
		"rule": "too_many_mismatches",
		"severity": "error",
		"device": input.device,
		"location": input.part,
		"message": sprintf("%d mismatches", [count(input.mismatches)]),
	}
}
`
	if err := os.WriteFile(filepath.Join(dir, "budget.rego"), []byte(extra), 0644); err != nil {
		t.Fatalf("write rego: %v", err)
	}
	e := newEngine(t, dir)
	res, err := e.Evaluate(context.Background(), InputFor("toy4", sampleReport(), nil, nil))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Summary.Total != 5 || res.Summary.Errors != 2 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	found := false
	for _, f := range res.Findings {
		if f.Rule == "too_many_mismatches" && f.Message == "4 mismatches" {
			found = true
		}
	}
	if !found {
		t.Fatalf("custom finding missing: %+v", res.Findings)
	}
}

func TestBadModule(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("package fabricdb.triage\n\nthis is not rego"), 0644); err != nil {
		t.Fatalf("write rego: %v", err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestValidSeverity(t *testing.T) {
	for _, s := range []string{"error", "warning", "info", "off"} {
		if !ValidSeverity(s) {
			t.Fatalf("%q should be valid", s)
		}
	}
	if ValidSeverity("fatal") {
		t.Fatalf("fatal should be invalid")
	}
}
