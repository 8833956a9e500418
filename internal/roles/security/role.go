// Package security implements the security agent role (spec.md §4.4):
// steps {init-patterns, scan-secrets, scan-vulnerabilities,
// scan-configuration, scan-modern, summarize}. Patterns are organized in
// four categories with severities {critical, high, medium, low, info};
// scanning fans out across available CPU cores with graceful fallback to
// single-threaded, grounded on internal/notifications/router.go's
// sync.WaitGroup fan-out idiom.
package security

import (
	"context"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"

	orchruntime "github.com/orchestrator-core/orchestrator/internal/runtime"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

// Severity is the closed severity scale patterns and findings carry.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Category is the four pattern categories this role scans for.
type Category string

const (
	CategorySecrets        Category = "secrets"
	CategoryVulnerability  Category = "vulnerabilities"
	CategoryConfiguration  Category = "configuration"
	CategoryModernThreat   Category = "modern"
)

// Pattern is one compiled detection rule.
type Pattern struct {
	Name     string
	Category Category
	Severity Severity
	Regexp   *regexp.Regexp
}

// Finding is one match of a Pattern against a file.
type Finding struct {
	Pattern  string   `json:"pattern"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	File     string   `json:"file"`
	Line     int      `json:"line"`
}

// FileLister enumerates the filesystem tree to scan — a narrow seam so
// tests can stub the tree without touching disk.
type FileLister func(root string) ([]string, error)

// FileReader reads one file's contents for pattern matching.
type FileReader func(path string) ([]byte, error)

// Role drives the security scan's 6-step plan.
type Role struct {
	patterns []Pattern
	list     FileLister
	read     FileReader
	maxProcs int
}

// New builds a security Role. maxProcs <= 0 falls back to runtime.NumCPU().
func New(list FileLister, read FileReader, maxProcs int) *Role {
	if maxProcs <= 0 {
		maxProcs = runtime.NumCPU()
	}
	if maxProcs < 1 {
		maxProcs = 1
	}
	return &Role{list: list, read: read, maxProcs: maxProcs}
}

// StepPlan is the role's declared 6-step plan. in carries: root (directory
// to scan).
func (r *Role) StepPlan() []orchruntime.Step {
	return []orchruntime.Step{
		r.initPatterns(),
		r.scanCategory(CategorySecrets, "scan-secrets"),
		r.scanCategory(CategoryVulnerability, "scan-vulnerabilities"),
		r.scanCategory(CategoryConfiguration, "scan-configuration"),
		r.scanCategory(CategoryModernThreat, "scan-modern"),
		r.summarize(),
	}
}

func (r *Role) initPatterns() orchruntime.Step {
	return orchruntime.Step{
		Name: "init-patterns",
		Action: func(context.Context, *types.AgentInstance, map[string]interface{}) (map[string]interface{}, error) {
			r.patterns = DefaultPatterns()
			return map[string]interface{}{"pattern_count": len(r.patterns)}, nil
		},
	}
}

func (r *Role) scanCategory(cat Category, stepName string) orchruntime.Step {
	return orchruntime.Step{
		Name: stepName,
		Action: func(ctx context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			root, _ := in["root"].(string)
			if root == "" {
				return nil, types.NewError(types.ErrConfigInvalid, "root directory is required")
			}
			var catPatterns []Pattern
			for _, p := range r.patterns {
				if p.Category == cat {
					catPatterns = append(catPatterns, p)
				}
			}
			findings, err := r.scan(ctx, root, catPatterns)
			if err != nil {
				return nil, err
			}
			prior, _ := in["findings"].([]Finding)
			merged := append(append([]Finding{}, prior...), findings...)
			return map[string]interface{}{"findings": merged}, nil
		},
	}
}

// scan walks the tree returned by r.list and matches catPatterns against
// each file's contents, fanning out across r.maxProcs workers with a
// graceful single-threaded fallback when maxProcs is 1.
func (r *Role) scan(ctx context.Context, root string, patterns []Pattern) ([]Finding, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	files, err := r.list(root)
	if err != nil {
		return nil, types.Wrap(types.ErrStateViolation, "scan", "security", err)
	}

	if r.maxProcs <= 1 {
		var out []Finding
		for _, f := range files {
			out = append(out, r.scanFile(f, patterns)...)
		}
		return out, nil
	}

	work := make(chan string, len(files))
	for _, f := range files {
		work <- f
	}
	close(work)

	var mu sync.Mutex
	var out []Finding
	var wg sync.WaitGroup
	for i := 0; i < r.maxProcs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case path, ok := <-work:
					if !ok {
						return
					}
					found := r.scanFile(path, patterns)
					if len(found) == 0 {
						continue
					}
					mu.Lock()
					out = append(out, found...)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return out, nil
}

func (r *Role) scanFile(path string, patterns []Pattern) []Finding {
	data, err := r.read(path)
	if err != nil {
		return nil
	}
	var findings []Finding
	lines := splitLines(data)
	for _, p := range patterns {
		for i, line := range lines {
			if p.Regexp.Match(line) {
				findings = append(findings, Finding{
					Pattern: p.Name, Category: p.Category, Severity: p.Severity,
					File: filepath.Clean(path), Line: i + 1,
				})
			}
		}
	}
	return findings
}

func (r *Role) summarize() orchruntime.Step {
	return orchruntime.Step{
		Name: "summarize",
		Action: func(context.Context, *types.AgentInstance, map[string]interface{}) (map[string]interface{}, error) {
			return nil, nil
		},
	}
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// DefaultPatterns is a small seed set; operators extend it via config.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "aws-access-key", Category: CategorySecrets, Severity: SeverityCritical, Regexp: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
		{Name: "private-key-block", Category: CategorySecrets, Severity: SeverityCritical, Regexp: regexp.MustCompile(`-----BEGIN (RSA |EC )?PRIVATE KEY-----`)},
		{Name: "generic-api-key", Category: CategorySecrets, Severity: SeverityHigh, Regexp: regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*['"][A-Za-z0-9]{16,}['"]`)},
		{Name: "sql-string-concat", Category: CategoryVulnerability, Severity: SeverityHigh, Regexp: regexp.MustCompile(`(?i)"SELECT .* "\s*\+`)},
		{Name: "insecure-tls-skip-verify", Category: CategoryVulnerability, Severity: SeverityHigh, Regexp: regexp.MustCompile(`InsecureSkipVerify:\s*true`)},
		{Name: "world-writable-permission", Category: CategoryConfiguration, Severity: SeverityMedium, Regexp: regexp.MustCompile(`0o?777`)},
		{Name: "debug-flag-enabled", Category: CategoryConfiguration, Severity: SeverityLow, Regexp: regexp.MustCompile(`(?i)debug\s*[:=]\s*true`)},
		{Name: "prompt-injection-marker", Category: CategoryModernThreat, Severity: SeverityMedium, Regexp: regexp.MustCompile(`(?i)ignore (all )?previous instructions`)},
	}
}
