package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the pipelines file without running anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDocument()
		if err != nil {
			return err
		}
		stages := 0
		for _, p := range doc.Pipelines {
			stages += len(p.Stages)
		}
		fmt.Printf("%s: %d pipelines, %d stages, configuration valid\n",
			viper.GetViper().GetString("config"), len(doc.Pipelines), stages)
		return nil
	},
}
