package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/experiment-core/internal/component"
	"github.com/nerrad567/experiment-core/internal/instrument"
)

func contractsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contracts",
		Short: "List the built-in contracts and their implementations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := component.NewContainer()
			defer c.Close()
			if err := instrument.RegisterAll(c); err != nil {
				return err
			}
			return printContracts(cmd.OutOrStdout(), c)
		},
	}
}

func printContracts(out io.Writer, c *component.Container) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTRACT\tNAME\tIMPLEMENTATION\tSETTINGS")
	for _, contract := range c.Contracts() {
		impls, err := c.Implementations(contract)
		if err != nil {
			return err
		}
		name := contract.Describe().Name
		if len(impls) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\n", contract.Key(), name)
			continue
		}
		for _, impl := range impls {
			settings := "no"
			if impl.HasSettings {
				settings = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", contract.Key(), name, impl.Name, settings)
		}
	}
	return tw.Flush()
}
