package policy

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/robert-at-pretension-io/fabricdb/internal/verify"
)

//go:embed triage.rego
var triageModule string

// Severities a rule may be set to. SeverityOff suppresses the rule.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
	SeverityOff     = "off"
)

// ValidSeverity reports whether s is a severity a rule override may use.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo, SeverityOff:
		return true
	}
	return false
}

// Engine triages verification mismatches into findings with severities
type Engine struct {
	queries map[string]rego.PreparedEvalQuery
}

// Finding is one triaged mismatch
type Finding struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Device   string `json:"device"`
	Location string `json:"location"`
	Message  string `json:"message"`
}

// Result contains the evaluation results
type Result struct {
	Findings []Finding `json:"findings"`
	Summary  Summary   `json:"summary"`
}

// Failed reports whether any finding has error severity.
func (r *Result) Failed() bool { return r.Summary.Errors > 0 }

// Summary provides aggregate counts
type Summary struct {
	Total    int `json:"total"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Info     int `json:"info"`
}

// Add accumulates another summary into s.
func (s *Summary) Add(o Summary) {
	s.Total += o.Total
	s.Errors += o.Errors
	s.Warnings += o.Warnings
	s.Info += o.Info
}

// Input is the data structure passed to OPA
type Input struct {
	Device          string            `json:"device"`
	Part            string            `json:"part"`
	Mismatches      []verify.Mismatch `json:"mismatches"`
	Rules           map[string]string `json:"rules"`
	IgnoreLocations []string          `json:"ignore_locations"`
}

// InputFor builds the policy input for one device's verification report.
func InputFor(device string, r *verify.Report, rules map[string]string, ignore []string) Input {
	in := Input{
		Device:          device,
		Part:            r.Part,
		Mismatches:      r.Mismatches,
		Rules:           rules,
		IgnoreLocations: ignore,
	}
	if in.Mismatches == nil {
		in.Mismatches = []verify.Mismatch{}
	}
	if in.Rules == nil {
		in.Rules = map[string]string{}
	}
	if in.IgnoreLocations == nil {
		in.IgnoreLocations = []string{}
	}
	return in
}

// New creates a policy engine from the built-in triage rules plus every
// .rego file in extraDir. Extra modules may add to the findings set of
// package fabricdb.triage. An empty extraDir loads only the built-in rules.
func New(extraDir string) (*Engine, error) {
	engine := &Engine{
		queries: make(map[string]rego.PreparedEvalQuery),
	}

	modules := []func(*rego.Rego){rego.Module("triage.rego", triageModule)}
	if extraDir != "" {
		files, err := filepath.Glob(filepath.Join(extraDir, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("finding policy files: %w", err)
		}
		sort.Strings(files)
		for _, f := range files {
			content, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", f, err)
			}
			modules = append(modules, rego.Module(f, string(content)))
		}
	}

	for name, q := range map[string]string{
		"findings": "data.fabricdb.triage.all_findings",
		"summary":  "data.fabricdb.triage.summary",
	} {
		opts := append(append([]func(*rego.Rego){}, modules...), rego.Query(q))
		query, err := rego.New(opts...).PrepareForEval(context.Background())
		if err != nil {
			return nil, fmt.Errorf("preparing %s query: %w", name, err)
		}
		engine.queries[name] = query
	}

	return engine, nil
}

// Evaluate runs the triage rules against one device's mismatches
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	// Convert input to map for OPA
	inputMap, err := structToMap(input)
	if err != nil {
		return nil, fmt.Errorf("converting input: %w", err)
	}

	result := &Result{Findings: []Finding{}}

	rs, err := e.queries["findings"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating findings: %w", err)
	}

	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		findings, ok := rs[0].Expressions[0].Value.([]interface{})
		if ok {
			for _, v := range findings {
				fmap, ok := v.(map[string]interface{})
				if !ok {
					continue
				}
				result.Findings = append(result.Findings, Finding{
					Rule:     getString(fmap, "rule"),
					Severity: getString(fmap, "severity"),
					Device:   getString(fmap, "device"),
					Location: getString(fmap, "location"),
					Message:  getString(fmap, "message"),
				})
			}
		}
	}
	sort.Slice(result.Findings, func(i, j int) bool {
		a, b := result.Findings[i], result.Findings[j]
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		return a.Rule < b.Rule
	})

	rs, err = e.queries["summary"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating summary: %w", err)
	}

	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		smap, ok := rs[0].Expressions[0].Value.(map[string]interface{})
		if ok {
			result.Summary = Summary{
				Total:    getInt(smap, "total"),
				Errors:   getInt(smap, "errors"),
				Warnings: getInt(smap, "warnings"),
				Info:     getInt(smap, "info"),
			}
		}
	}

	return result, nil
}

// Helper functions
func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	return result, err
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		case json.Number:
			i, _ := n.Int64()
			return int(i)
		}
	}
	return 0
}
