package main

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/smokerun"
	"github.com/loykin/smokerun/internal/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run [pipeline ...]",
	Short: "Run pipelines by name or alias (all pipelines when none given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		doc, err := loadDocument()
		if err != nil {
			return err
		}

		ctx := context.Background()
		opts := smokerun.Options{
			Port: v.GetString("port"),
			Only: v.GetString("stage"),
			From: v.GetString("from"),
			To:   v.GetString("to"),
		}

		if v.GetBool("dry_run") {
			return printPlans(doc, args, opts)
		}

		// History is best effort: a broken store must never block a smoke test.
		if !doc.Global.Store.Disabled {
			hist, herr := smokerun.OpenHistory(ctx, doc.Global.Store)
			if herr != nil {
				common.GetLogger().Warn("history store unavailable, continuing without", "error", herr)
			} else {
				opts.History = hist
				defer func() { _ = hist.Close() }()
			}
		}

		runner := smokerun.NewRunner(doc, opts)
		var results []*smokerun.Result
		var runErr error
		if len(args) == 0 {
			results, runErr = runner.RunAll(ctx)
		} else {
			for _, name := range args {
				res, err := runner.Run(ctx, name)
				if res != nil {
					results = append(results, res)
				}
				if err != nil {
					runErr = err
					break
				}
			}
		}

		printSummary(results)
		return runErr
	},
}

func init() {
	v := viper.GetViper()
	v.SetDefault("stage", "")
	v.SetDefault("from", "")
	v.SetDefault("to", "")
	v.SetDefault("dry_run", false)

	runCmd.Flags().String("stage", v.GetString("stage"), "run only this stage")
	runCmd.Flags().String("from", v.GetString("from"), "first stage of the range to run")
	runCmd.Flags().String("to", v.GetString("to"), "last stage of the range to run")
	runCmd.Flags().Bool("dry-run", v.GetBool("dry_run"), "print the stage plan without executing")

	_ = v.BindPFlag("stage", runCmd.Flags().Lookup("stage"))
	_ = v.BindPFlag("from", runCmd.Flags().Lookup("from"))
	_ = v.BindPFlag("to", runCmd.Flags().Lookup("to"))
	_ = v.BindPFlag("dry_run", runCmd.Flags().Lookup("dry-run"))
}

// printPlans prints the dry-run plan for the selected pipelines.
func printPlans(doc *smokerun.Document, args []string, opts smokerun.Options) error {
	runner := smokerun.NewRunner(doc, opts)

	names := args
	if len(names) == 0 {
		for _, p := range doc.Pipelines {
			names = append(names, p.Name)
		}
	}
	for _, name := range names {
		steps, err := runner.Plan(name)
		if err != nil {
			return err
		}
		fmt.Printf("%s:\n", name)
		for i, st := range steps {
			fmt.Printf("  %2d. %-20s (%s)\n", i+1, st.Name, st.Kind)
		}
	}
	return nil
}

func printSummary(results []*smokerun.Result) {
	for _, res := range results {
		status := "passed"
		if res.Failed {
			status = "FAILED"
		}
		fmt.Printf("%s: %s (%d stages)\n", res.Pipeline, status, len(res.Stages))
		for _, sr := range res.Stages {
			mark := "ok"
			switch sr.Status {
			case "failed":
				mark = "FAIL"
			case "ignored":
				mark = "ignored"
			}
			fmt.Printf("  %-20s %-8s %s\n", sr.Name, mark, sr.Duration.Round(time.Millisecond))
		}
	}
}
