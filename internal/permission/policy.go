package permission

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

//go:embed policy/*.rego
var embeddedPolicies embed.FS

const decisionQuery = "data.pedometer.permission.decision"

// Input is the document the permission policy is evaluated against.
type Input struct {
	Permission    string
	PlatformLevel int
	Granted       []string
}

func (in Input) toMap() map[string]interface{} {
	granted := make([]interface{}, 0, len(in.Granted))
	for _, p := range in.Granted {
		granted = append(granted, p)
	}
	return map[string]interface{}{
		"permission":     in.Permission,
		"platform_level": in.PlatformLevel,
		"granted":        granted,
	}
}

// Decision is the policy's answer for one permission.
type Decision struct {
	RuntimeRequired bool `json:"runtime_required"`
	Granted         bool `json:"granted"`
}

// Evaluator decides permission questions.
type Evaluator interface {
	Decide(ctx context.Context, in Input) (Decision, error)
}

// Policy wraps an OPA rego query over the permission policy.
type Policy struct {
	policyDir string
	logger    zerolog.Logger

	mu    sync.RWMutex
	query rego.PreparedEvalQuery
}

// NewPolicy loads the .rego files in policyDir, or the embedded default
// policy when policyDir is empty.
func NewPolicy(policyDir string, logger zerolog.Logger) (*Policy, error) {
	p := &Policy{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "opa").Logger(),
	}

	if err := p.Reload(); err != nil {
		return nil, err
	}

	source := policyDir
	if source == "" {
		source = "embedded"
	}
	p.logger.Info().Str("policy_source", source).Msg("Permission policy initialized")

	return p, nil
}

// loadPolicies parses every policy file
func (p *Policy) loadPolicies() (map[string]*ast.Module, error) {
	sources, err := p.readSources()
	if err != nil {
		return nil, err
	}

	modules := make(map[string]*ast.Module, len(sources))
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		module, err := ast.ParseModule(name, sources[name])
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", name, err)
		}
		modules[name] = module
		p.logger.Debug().Str("file", name).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	return modules, nil
}

func (p *Policy) readSources() (map[string]string, error) {
	sources := make(map[string]string)

	if p.policyDir == "" {
		entries, err := embeddedPolicies.ReadDir("policy")
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded policies: %w", err)
		}
		for _, entry := range entries {
			content, err := embeddedPolicies.ReadFile("policy/" + entry.Name())
			if err != nil {
				return nil, fmt.Errorf("failed to read embedded policy %s: %w", entry.Name(), err)
			}
			sources[entry.Name()] = string(content)
		}
		return sources, nil
	}

	files, err := filepath.Glob(filepath.Join(p.policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", p.policyDir)
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}
		sources[file] = string(content)
	}
	return sources, nil
}

// Reload re-reads and re-compiles the policy. The previous policy stays in
// effect if the new one fails to load.
func (p *Policy) Reload() error {
	modules, err := p.loadPolicies()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for _, module := range modules {
		opts = append(opts, rego.ParsedModule(module))
	}

	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare permission query: %w", err)
	}

	p.mu.Lock()
	p.query = query
	p.mu.Unlock()

	p.logger.Debug().Int("modules", len(modules)).Msg("Permission policy prepared")
	return nil
}

// Decide evaluates the policy for in.
func (p *Policy) Decide(ctx context.Context, in Input) (Decision, error) {
	startTime := time.Now()

	p.mu.RLock()
	query := p.query
	p.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(in.toMap()))
	if err != nil {
		return Decision{}, fmt.Errorf("permission query evaluation failed: %w", err)
	}

	p.logger.Debug().Dur("duration", time.Since(startTime)).Str("permission", in.Permission).Msg("Permission query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("no results from permission query")
	}

	resultBytes, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to marshal permission decision: %w", err)
	}

	var decision Decision
	if err := json.Unmarshal(resultBytes, &decision); err != nil {
		return Decision{}, fmt.Errorf("failed to unmarshal permission decision: %w", err)
	}

	return decision, nil
}
