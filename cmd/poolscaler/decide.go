package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/yourusername/poolscaler/internal/config"
	"github.com/yourusername/poolscaler/internal/policy"
	"github.com/yourusername/poolscaler/internal/scaling"
	"github.com/yourusername/poolscaler/pkg/models"
)

// decideOptions 离线评估的输入
type decideOptions struct {
	At      string
	Total   int
	Idle    int
	Queued  int
	IdleFor time.Duration
}

var decideOpts decideOptions

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Evaluate the scaling policies once for a given time and pool state",
	Long: `Runs a single offline evaluation without touching the cluster. The pool
state is described by flags; all idle slots share the same idle duration.

Example:
  poolscaler decide --at 2024-01-03T07:00:00Z --total 4 --idle 4 --queued 8`,
	RunE: runDecide,
}

func init() {
	decideCmd.Flags().StringVar(&decideOpts.At, "at", "", "Evaluation time in RFC3339 (default: now)")
	decideCmd.Flags().IntVar(&decideOpts.Total, "total", 0, "Current total slot count")
	decideCmd.Flags().IntVar(&decideOpts.Idle, "idle", 0, "Number of idle slots")
	decideCmd.Flags().IntVar(&decideOpts.Queued, "queued", 0, "Number of queued tasks")
	decideCmd.Flags().DurationVar(&decideOpts.IdleFor, "idle-for", 0, "How long the idle slots have been idle")
}

func runDecide(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	s, err := policy.FromConfig(cfg.Scaling)
	if err != nil {
		return fmt.Errorf("invalid scaling configuration: %w", err)
	}

	decision, err := decide(s, scaling.NewEngine(scaling.WithScaleUpCooldown(cfg.Controller.ScaleUpCooldown)), decideOpts, time.Now())
	if err != nil {
		return err
	}
	return printDecision(cmd.OutOrStdout(), decision)
}

// decide 按给定状态执行一次评估
func decide(s *policy.Scaling, engine *scaling.Engine, opts decideOptions, defaultNow time.Time) (models.ScalingDecision, error) {
	now := defaultNow.UTC()
	if opts.At != "" {
		at, err := time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return models.ScalingDecision{}, fmt.Errorf("invalid --at %q: %w", opts.At, err)
		}
		now = at.UTC()
	}

	state, err := poolStateFromOptions(opts, now)
	if err != nil {
		return models.ScalingDecision{}, err
	}

	active, ok := s.SelectActive(now)
	if !ok {
		return scaling.NoActivePolicy(state, now), nil
	}
	return engine.Decide(active, state, now), nil
}

func poolStateFromOptions(opts decideOptions, now time.Time) (models.PoolState, error) {
	if opts.Total < 0 || opts.Idle < 0 || opts.Queued < 0 {
		return models.PoolState{}, fmt.Errorf("--total, --idle and --queued must not be negative")
	}
	if opts.Idle > opts.Total {
		return models.PoolState{}, fmt.Errorf("--idle (%d) cannot exceed --total (%d)", opts.Idle, opts.Total)
	}

	state := models.PoolState{
		TotalSlots:      opts.Total,
		QueuedTaskCount: opts.Queued,
	}
	lastBusy := now.Add(-opts.IdleFor)
	for i := 0; i < opts.Idle; i++ {
		state.IdleSlots = append(state.IdleSlots, models.IdleSlot{
			SlotID:   fmt.Sprintf("slot-%03d", i),
			LastBusy: lastBusy,
		})
	}
	return state, nil
}

func printDecision(w io.Writer, d models.ScalingDecision) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	policyName := d.ActivePolicyName
	if policyName == "" {
		policyName = "(none)"
	}
	fmt.Fprintf(w, "Evaluated at:  %s\n", d.EvaluatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Active policy: %s\n", policyName)
	fmt.Fprintf(w, "Slots:         %d -> %d\n", d.CurrentTotalSlots, d.TargetTotalSlots)
	fmt.Fprintf(w, "Reason:        %s\n", d.Reason)
	if len(d.RemovalCandidates) > 0 {
		fmt.Fprintf(w, "Remove first:  %v\n", d.RemovalCandidates)
	}
	return nil
}
