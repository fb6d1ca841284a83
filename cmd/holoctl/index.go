package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/holodex"
)

func newIndexCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Create, drop and list indexes",
	}
	cmd.AddCommand(newIndexCreateCmd(a), newIndexDropCmd(a), newIndexListCmd(a))
	return cmd
}

func newIndexCreateCmd(a *app) *cobra.Command {
	var (
		kind       string
		name       string
		replace    bool
		metric     string
		algorithm  string
		partitions int
	)
	cmd := &cobra.Command{
		Use:   "create <table> <column>",
		Short: "Build an index and wait until it is ready",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := holodex.IndexKind(kind)
			if k != holodex.VectorIndex && k != holodex.FullTextIndex {
				return fmt.Errorf("--kind must be %q or %q, got %q", holodex.VectorIndex, holodex.FullTextIndex, kind)
			}
			params := holodex.IndexParams{
				Algorithm:  holodex.IndexAlgorithm(algorithm),
				Partitions: partitions,
			}
			if metric != "" {
				m, err := holodex.ParseMetric(metric)
				if err != nil {
					return err
				}
				params.Metric = m
			}
			opts := []holodex.IndexOption{holodex.WithIndexParams(params)}
			if name != "" {
				opts = append(opts, holodex.IndexName(name))
			}
			if replace {
				opts = append(opts, holodex.ReplaceIndex())
			}
			return a.withTable(cmd.Context(), args[0], func(t *holodex.Table) error {
				d, err := t.CreateIndex(cmd.Context(), args[1], k, opts...)
				if err != nil {
					return err
				}
				return a.printIndexes([]holodex.IndexDescriptor{d})
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&kind, "kind", string(holodex.VectorIndex), "vector or fts")
	fl.StringVar(&name, "name", "", "index name (default <table>_<column>_idx)")
	fl.BoolVar(&replace, "replace", false, "drop an existing index of the same kind first")
	fl.StringVar(&metric, "metric", "", "vector metric: cosine, l2 or dot")
	fl.StringVar(&algorithm, "algorithm", "", "vector algorithm: ivfflat, hnsw or flat")
	fl.IntVar(&partitions, "partitions", 0, "ivfflat partitions")
	return cmd
}

func newIndexDropCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <table> <name>",
		Short: "Drop an index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTable(cmd.Context(), args[0], func(t *holodex.Table) error {
				if err := t.DropIndex(cmd.Context(), args[1]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "dropped index %s\n", args[1])
				return nil
			})
		},
	}
}

func newIndexListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <table>",
		Short: "List the indexes of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTable(cmd.Context(), args[0], func(t *holodex.Table) error {
				ds, err := t.ListIndexes(cmd.Context())
				if err != nil {
					return err
				}
				return a.printIndexes(ds)
			})
		},
	}
}

type indexView struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Column     string `json:"column"`
	Status     string `json:"status"`
	Algorithm  string `json:"algorithm,omitempty"`
	Metric     string `json:"metric,omitempty"`
	Partitions int    `json:"partitions,omitempty"`
}

func (a *app) printIndexes(ds []holodex.IndexDescriptor) error {
	views := make([]indexView, len(ds))
	for i, d := range ds {
		p := d.Params()
		views[i] = indexView{
			Name:       d.Name(),
			Kind:       string(d.Kind()),
			Column:     d.Column(),
			Status:     string(d.Status()),
			Algorithm:  string(p.Algorithm),
			Metric:     string(p.Metric),
			Partitions: p.Partitions,
		}
	}
	if a.asJSON {
		return a.printJSON(views)
	}
	rows := make([][]string, len(views))
	for i, v := range views {
		parts := ""
		if v.Partitions > 0 {
			parts = strconv.Itoa(v.Partitions)
		}
		rows[i] = []string{v.Name, v.Kind, v.Column, v.Status, v.Algorithm, v.Metric, parts}
	}
	return a.printTable([]string{"NAME", "KIND", "COLUMN", "STATUS", "ALGORITHM", "METRIC", "PARTITIONS"}, rows)
}
