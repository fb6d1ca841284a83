package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/holodex"
)

func newCountCmd(a *app) *cobra.Command {
	var where string
	cmd := &cobra.Command{
		Use:   "count <table>",
		Short: "Count rows, optionally matching --where",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTable(cmd.Context(), args[0], func(t *holodex.Table) error {
				n, err := t.Count(cmd.Context(), where)
				if err != nil {
					return err
				}
				if a.asJSON {
					return a.printJSON(map[string]int64{"count": n})
				}
				fmt.Fprintln(a.out, n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&where, "where", "", "filter predicate")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var where string
	cmd := &cobra.Command{
		Use:   "delete <table>",
		Short: "Delete the rows matching --where",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTable(cmd.Context(), args[0], func(t *holodex.Table) error {
				n, err := t.Delete(cmd.Context(), where)
				if err != nil {
					return err
				}
				if a.asJSON {
					return a.printJSON(map[string]int64{"deleted": n})
				}
				fmt.Fprintf(a.out, "deleted %d rows\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&where, "where", "", "filter predicate (required)")
	_ = cmd.MarkFlagRequired("where")
	return cmd
}
