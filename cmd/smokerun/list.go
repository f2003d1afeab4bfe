package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the pipelines defined in the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDocument()
		if err != nil {
			return err
		}
		for _, p := range doc.Pipelines {
			name := p.Name
			if len(p.Aliases) > 0 {
				name = fmt.Sprintf("%s (%s)", p.Name, strings.Join(p.Aliases, ", "))
			}
			fmt.Printf("%-40s %2d stages", name, len(p.Stages))
			if p.Description != "" {
				fmt.Printf("  %s", p.Description)
			}
			fmt.Println()
		}
		return nil
	},
}
