package main

import (
	"context"
	"fmt"

	"github.com/loykin/smokerun"
	"github.com/spf13/cobra"
)

var (
	statusPipeline string
	statusRunID    int64
	statusLimit    int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded pipeline runs and their stage results",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDocument()
		if err != nil {
			return err
		}
		if doc.Global.Store.Disabled {
			return fmt.Errorf("run history is disabled in the configuration")
		}

		st, err := smokerun.OpenHistory(context.Background(), doc.Global.Store)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if statusRunID > 0 {
			return printStages(st, statusRunID)
		}
		return printRuns(st, statusPipeline, statusLimit)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusPipeline, "pipeline", "", "only show runs of this pipeline")
	statusCmd.Flags().Int64Var(&statusRunID, "run", 0, "show the stage results of one run id")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "show up to N latest runs (0 = all)")
}

func printRuns(st *smokerun.HistoryStore, pipeline string, limit int) error {
	runs, err := st.ListRuns(pipeline)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[len(runs)-limit:]
	}
	// Newest first for reading convenience.
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		fmt.Printf("#%-5d %-30s %-8s %6dms  %s\n", r.ID, r.Pipeline, r.Status, r.DurationMS, r.StartedAt)
	}
	return nil
}

func printStages(st *smokerun.HistoryStore, runID int64) error {
	stages, err := st.ListStages(runID)
	if err != nil {
		return err
	}
	if len(stages) == 0 {
		fmt.Printf("no stage results for run %d\n", runID)
		return nil
	}
	for _, s := range stages {
		line := fmt.Sprintf("%-20s %-8s %6dms", s.Stage, s.Status, s.DurationMS)
		if s.Ignored && s.Error != nil {
			line += "  (ignored: " + *s.Error + ")"
		} else if s.Error != nil {
			line += "  " + *s.Error
		}
		fmt.Println(line)
	}
	return nil
}
