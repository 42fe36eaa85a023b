package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/yourusername/poolscaler/internal/config"
	"github.com/yourusername/poolscaler/internal/policy"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the scaling policies in the config file",
	Long: `Loads the config file, builds the scaling policies and reports every
configuration error and unreachable-policy warning. Exits non-zero on errors.`,
	RunE: runValidate,
}

// validationReport validate 的JSON输出
type validationReport struct {
	Valid    bool     `json:"valid"`
	Policies []string `json:"policies,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	report := buildReport(cfg.Scaling, cfg.K8s.WatchPolicy)
	if err := printReport(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if !report.Valid {
		return fmt.Errorf("scaling configuration has %d error(s)", len(report.Errors))
	}
	return nil
}

func buildReport(sc config.ScalingConfig, watchPolicy bool) validationReport {
	if len(sc.Policies) == 0 && watchPolicy {
		return validationReport{Valid: true}
	}

	s, err := policy.FromConfig(sc)
	if err != nil {
		report := validationReport{}
		var cerrs policy.ConfigurationErrors
		if errors.As(err, &cerrs) {
			for _, e := range cerrs {
				report.Errors = append(report.Errors, e.Error())
			}
		} else {
			report.Errors = []string{err.Error()}
		}
		return report
	}

	report := validationReport{Valid: true, Policies: s.Names()}
	for _, w := range s.Warnings() {
		report.Warnings = append(report.Warnings, w.String())
	}
	return report
}

func printReport(w io.Writer, report validationReport) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	for _, e := range report.Errors {
		fmt.Fprintf(w, "ERROR   %s\n", e)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "WARNING %s\n", warning)
	}

	switch {
	case !report.Valid:
		fmt.Fprintln(w, "Scaling configuration is invalid")
	case len(report.Policies) == 0:
		fmt.Fprintln(w, "No policies in config file; they are loaded from the PoolScaling resource")
	default:
		fmt.Fprintf(w, "Scaling configuration is valid: %d policies\n", len(report.Policies))
		for i, name := range report.Policies {
			fmt.Fprintf(w, "  %d. %s\n", i+1, name)
		}
	}
	return nil
}
