package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Load reads a policy file over Default. Files ending in .yaml or .yml are
// parsed as YAML; .cue files are evaluated with CUE and may use
// references and constraints. The merged result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".cue":
		if err := decodeCUE(string(data), path, &cfg); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("config %s: unsupported extension (want .yaml, .yml or .cue)", path)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// decodeCUE evaluates src and overlays its concrete values onto cfg.
// Fields the file leaves out keep their current values.
func decodeCUE(src, filename string, cfg *Config) error {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return fmt.Errorf("compile %s: %w", filename, err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("evaluate %s: %w", filename, err)
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Errorf("export %s: %w", filename, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode %s: %w", filename, err)
	}
	return nil
}

// Validate checks cfg against the embedded CUE schema, then applies the
// cross-field rules the schema cannot express. All violations are
// reported together.
func Validate(cfg Config) error {
	var result error

	if err := validateSchema(cfg); err != nil {
		result = multierror.Append(result, err)
	}

	if d := cfg.OfflineReportDelay; d != nil {
		if d.Min < 0 {
			result = multierror.Append(result, fmt.Errorf("offline_report_delay.min %s is negative", d.Min))
		}
		if d.Max < d.Min {
			result = multierror.Append(result, fmt.Errorf("offline_report_delay.max %s is before min %s", d.Max, d.Min))
		}
	}
	if cfg.Aggregate.DelaySpan < 0 || cfg.Aggregate.MinDelay < 0 {
		result = multierror.Append(result, fmt.Errorf("aggregate delays must not be negative"))
	}
	if cfg.RateLimit.TimeWindow <= 0 {
		result = multierror.Append(result, fmt.Errorf("rate_limit.time_window must be positive"))
	}
	if cfg.AggregatableDebug.MaxBudgetPerContextReportingSite > cfg.Aggregate.BudgetPerSource {
		result = multierror.Append(result, fmt.Errorf(
			"aggregatable_debug.max_budget_per_context_reporting_site %d exceeds aggregate.budget_per_source %d",
			cfg.AggregatableDebug.MaxBudgetPerContextReportingSite, cfg.Aggregate.BudgetPerSource))
	}

	if merr, ok := result.(*multierror.Error); ok {
		return merr.ErrorOrNil()
	}
	return result
}

func validateSchema(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
