package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ayusman/beabled/internal/classifier"
)

var labelsCmd = &cobra.Command{
	Use:   "labels <file>",
	Short: "Validate and list a class label file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		labels, err := classifier.LoadLabels(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, name := range labels.Names() {
			fmt.Fprintf(out, "%3d  %s\n", i, name)
		}
		fmt.Fprintf(out, "%d classes\n", labels.Len())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
}
