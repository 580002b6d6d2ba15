package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/spf13/cobra"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/internal/evaluator"
)

func evaluateCMD() *cobra.Command {
	var cfgPath string
	var samplesPath string
	var baselinePath string
	var writeBaseline bool
	var cronSpec string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run the retrieval quality harness against the stored baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if samplesPath == "" {
				samplesPath = cfg.Evaluator.SampleFile
			}
			if baselinePath == "" {
				baselinePath = cfg.Evaluator.BaselineFile
			}
			if samplesPath == "" {
				return fmt.Errorf("no sample file configured (evaluator.sample_file or --samples)")
			}

			ctx := context.Background()
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ev, err := evaluator.New(a.engine, a.store, cfg.Evaluator, nil)
			if err != nil {
				return err
			}

			run := func() error {
				return runEvaluation(ctx, ev, cfg, samplesPath, baselinePath, writeBaseline)
			}

			if cronSpec == "" {
				return run()
			}
			expr, err := cronexpr.Parse(cronSpec)
			if err != nil {
				return fmt.Errorf("invalid cron expression %q: %w", cronSpec, err)
			}
			for {
				next := expr.Next(time.Now())
				log.Printf("[EVAL] next run at %s", next.Format(time.RFC3339))
				time.Sleep(time.Until(next))
				if err := run(); err != nil {
					log.Printf("[EVAL] run failed: %v", err)
				}
			}
		},
	}

	cmd.Flags().StringVar(&samplesPath, "samples", "", "sample file (overrides evaluator.sample_file)")
	cmd.Flags().StringVar(&baselinePath, "baseline", "", "baseline file (overrides evaluator.baseline_file)")
	cmd.Flags().BoolVar(&writeBaseline, "write-baseline", false, "freeze this run as the new baseline")
	cmd.Flags().StringVar(&cronSpec, "cron", "", "run on a cron schedule instead of once")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return cmd
}

func runEvaluation(ctx context.Context, ev *evaluator.Evaluator, cfg *config.Config, samplesPath, baselinePath string, writeBaseline bool) error {
	samples, err := evaluator.LoadSamples(samplesPath)
	if err != nil {
		return err
	}
	report, err := ev.Run(ctx, samples)
	if err != nil {
		return err
	}
	path, err := ev.WriteReport(report)
	if err != nil {
		return err
	}
	log.Printf("[EVAL] report written to %s (composite %.3f)", path, report.Composite)

	if writeBaseline {
		if baselinePath == "" {
			return fmt.Errorf("no baseline file configured (evaluator.baseline_file or --baseline)")
		}
		if err := evaluator.SaveBaseline(baselinePath, evaluator.BaselineFromReport(report)); err != nil {
			return err
		}
		log.Printf("[EVAL] baseline updated at %s", baselinePath)
		return nil
	}

	if baselinePath == "" {
		log.Printf("[EVAL] no baseline configured, skipping comparison")
		return nil
	}
	baseline, err := evaluator.LoadBaseline(baselinePath)
	if err != nil {
		return err
	}
	cmp := evaluator.Compare(baseline, report, cfg.Evaluator.Tolerance)
	log.Printf("[EVAL] vs baseline: precision %+.1f%% recall %+.1f%% f1 %+.1f%% relevance %+.1f%% latency %+.1f%% composite %+.1f%%",
		cmp.PrecisionDelta, cmp.RecallDelta, cmp.F1Delta, cmp.RelevanceDelta, cmp.LatencyDelta, cmp.CompositeDelta)
	if cmp.Regressed {
		return fmt.Errorf("quality below threshold: composite dropped %.1f%% (tolerance %.0f%%)",
			-cmp.CompositeDelta, cfg.Evaluator.Tolerance*100)
	}
	return nil
}
