package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/holodex"
)

func newTablesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List, describe, rename and drop tables",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withConn(cmd.Context(), func(c *holodex.Connection) error {
					names, err := c.ListTables(cmd.Context())
					if err != nil {
						return err
					}
					if a.asJSON {
						if names == nil {
							names = []string{}
						}
						return a.printJSON(names)
					}
					for _, n := range names {
						fmt.Fprintln(a.out, n)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "schema <table>",
			Short: "Show a table schema",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withTable(cmd.Context(), args[0], func(t *holodex.Table) error {
					return a.printSchema(t.Schema())
				})
			},
		},
		&cobra.Command{
			Use:   "rename <table> <new-name>",
			Short: "Rename a table",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withConn(cmd.Context(), func(c *holodex.Connection) error {
					if err := c.RenameTable(cmd.Context(), args[0], args[1]); err != nil {
						return err
					}
					fmt.Fprintf(a.out, "renamed table %s to %s\n", args[0], args[1])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "drop <table>",
			Short: "Drop a table",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withConn(cmd.Context(), func(c *holodex.Connection) error {
					if err := c.DropTable(cmd.Context(), args[0]); err != nil {
						return err
					}
					fmt.Fprintf(a.out, "dropped table %s\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

type columnView struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Dim        int    `json:"dim,omitempty"`
	Element    string `json:"element,omitempty"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

func (a *app) printSchema(s holodex.Schema) error {
	cols := s.Columns()
	views := make([]columnView, len(cols))
	for i, c := range cols {
		views[i] = columnView{
			Name:       c.Name(),
			Type:       string(c.Type()),
			Dim:        c.Dim(),
			Element:    string(c.Element()),
			Nullable:   c.Nullable(),
			PrimaryKey: c.Name() == s.PrimaryKey(),
		}
	}
	if a.asJSON {
		return a.printJSON(views)
	}
	rows := make([][]string, len(views))
	for i, v := range views {
		dim := ""
		if v.Dim > 0 {
			dim = strconv.Itoa(v.Dim)
		}
		rows[i] = []string{v.Name, v.Type, dim, strconv.FormatBool(v.Nullable), strconv.FormatBool(v.PrimaryKey)}
	}
	return a.printTable([]string{"NAME", "TYPE", "DIM", "NULLABLE", "PK"}, rows)
}
