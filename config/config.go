// Package config loads the Tortillas YAML configuration file, producing
// both the LogParser rules and the LogAnalyzer rules each "analyze" entry
// combines.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paideia-dilemma/tortillas/loganalyzer"
	"github.com/paideia-dilemma/tortillas/logparser"
)

// Config is the fully validated, ready-to-use Tortillas configuration.
type Config struct {
	Threads             int
	BootupTimeout       time.Duration
	DefaultTestTimeout  time.Duration
	ScTortillasBootup   uint64
	ScTortillasFinished uint64
	LogLevel            string

	ParseRules   []logparser.Rule
	AnalyzeRules []loganalyzer.AnalyzeRule
}

type analyzeEntry struct {
	Name      string `yaml:"name"`
	Scope     string `yaml:"scope"`
	Pattern   string `yaml:"pattern"`
	Mode      string `yaml:"mode"`
	SetStatus string `yaml:"set_status"`
}

type rawConfig struct {
	Threads                *int    `yaml:"threads"`
	BootupTimeoutSecs      *int    `yaml:"bootup_timeout_secs"`
	DefaultTestTimeoutSecs *int    `yaml:"default_test_timeout_secs"`
	ScTortillasBootup      *uint64 `yaml:"sc_tortillas_bootup"`
	ScTortillasFinished    *uint64 `yaml:"sc_tortillas_finished"`
	LogLevel               string  `yaml:"log_level"`

	Analyze []analyzeEntry `yaml:"analyze"`
}

// Load reads and validates the Tortillas config file at path. Unknown
// top-level keys are rejected; every required key must be present.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var raw rawConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	var missing []string
	if raw.Threads == nil {
		missing = append(missing, "threads")
	}
	if raw.BootupTimeoutSecs == nil {
		missing = append(missing, "bootup_timeout_secs")
	}
	if raw.DefaultTestTimeoutSecs == nil {
		missing = append(missing, "default_test_timeout_secs")
	}
	if raw.ScTortillasBootup == nil {
		missing = append(missing, "sc_tortillas_bootup")
	}
	if raw.ScTortillasFinished == nil {
		missing = append(missing, "sc_tortillas_finished")
	}
	if raw.Analyze == nil {
		missing = append(missing, "analyze")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required key(s): %s", strings.Join(missing, ", "))
	}

	if *raw.Threads <= 0 {
		return nil, fmt.Errorf("config: threads must be positive, got %d", *raw.Threads)
	}

	parseRules, analyzeRules, err := buildRules(raw.Analyze)
	if err != nil {
		return nil, err
	}

	logLevel := raw.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		Threads:             *raw.Threads,
		BootupTimeout:       time.Duration(*raw.BootupTimeoutSecs) * time.Second,
		DefaultTestTimeout:  time.Duration(*raw.DefaultTestTimeoutSecs) * time.Second,
		ScTortillasBootup:   *raw.ScTortillasBootup,
		ScTortillasFinished: *raw.ScTortillasFinished,
		LogLevel:            logLevel,
		ParseRules:          parseRules,
		AnalyzeRules:        analyzeRules,
	}, nil
}

func buildRules(entries []analyzeEntry) ([]logparser.Rule, []loganalyzer.AnalyzeRule, error) {
	parseRules := make([]logparser.Rule, 0, len(entries))
	analyzeRules := make([]loganalyzer.AnalyzeRule, 0, len(entries))

	for _, e := range entries {
		scope := e.Scope
		if scope == "" {
			scope = logparser.ScopeAll
		}
		rule, err := logparser.CompileRule(e.Name, scope, e.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("config: analyze entry %q: %w", e.Name, err)
		}
		parseRules = append(parseRules, rule)

		var status *loganalyzer.TestStatus
		if e.SetStatus != "" {
			s, err := loganalyzer.ParseStatus(e.SetStatus)
			if err != nil {
				return nil, nil, fmt.Errorf("config: analyze entry %q: %w", e.Name, err)
			}
			status = &s
		}

		mode, err := buildMode(e.Mode, status)
		if err != nil {
			return nil, nil, fmt.Errorf("config: analyze entry %q: %w", e.Name, err)
		}
		analyzeRules = append(analyzeRules, loganalyzer.AnalyzeRule{Name: e.Name, Mode: mode})
	}

	return parseRules, analyzeRules, nil
}

func buildMode(name string, status *loganalyzer.TestStatus) (loganalyzer.Mode, error) {
	switch name {
	case "add_as_error":
		return loganalyzer.AddAsError{Status: status}, nil
	case "add_as_error_join":
		return loganalyzer.AddAsErrorJoin{Status: status}, nil
	case "add_as_error_last":
		return loganalyzer.AddAsErrorLast{Status: status}, nil
	case "expect_stdout":
		return loganalyzer.ExpectStdout{Status: status}, nil
	case "exit_codes":
		return loganalyzer.ExitCodes{Status: status}, nil
	default:
		return nil, fmt.Errorf("unknown analyze mode %q", name)
	}
}
