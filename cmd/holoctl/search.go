package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/holodex"
	"github.com/kailas-cloud/holodex/internal/config"
)

type searchFlags struct {
	vector string
	value  string
	text   string
	mode   string
	where  string
	sel    []string
	limit  int
	offset int
	metric string
}

func newSearchCmd(a *app) *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search <table>",
		Short: "Run a vector, text, hybrid or scan query",
		Example: `  holoctl search docs --vector 0.1,0.2,0.3 --limit 5
  holoctl search docs --text "vector database" --where "lang = 'en'"
  holoctl search docs --value "vector database" --text "vector database" --vectorizer default`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var opts []holodex.TableOption
			if f.value != "" {
				emb, err := a.embedder(ctx)
				if err != nil {
					return err
				}
				defer emb.Close()
				opts = append(opts, holodex.WithTableEmbedder(emb))
			}
			return a.withTable(ctx, args[0], func(t *holodex.Table) error {
				q, err := f.query(t)
				if err != nil {
					return err
				}
				res, err := q.Execute(ctx)
				if err != nil {
					return err
				}
				if res.Degraded {
					fmt.Fprintf(cmd.ErrOrStderr(), "degraded: %s\n", res.DegradedReason)
				}
				return a.printResult(res)
			}, opts...)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.vector, "vector", "", "literal vector probe, comma separated")
	fl.StringVar(&f.value, "value", "", "raw probe embedded with --vectorizer")
	fl.StringVar(&f.text, "text", "", "full-text probe")
	fl.StringVar(&f.mode, "mode", "", "vector, text, hybrid or scan (default: inferred)")
	fl.StringVar(&f.where, "where", "", "filter predicate, e.g. \"price < 10 AND NOT archived\"")
	fl.StringSliceVar(&f.sel, "select", nil, "columns to return")
	fl.IntVar(&f.limit, "limit", 10, "rows to return")
	fl.IntVar(&f.offset, "offset", 0, "ranked rows to skip")
	fl.StringVar(&f.metric, "metric", "", "cosine, l2 or dot")
	cmd.MarkFlagsMutuallyExclusive("vector", "value")
	return cmd
}

func (f searchFlags) query(t *holodex.Table) (holodex.Query, error) {
	q := t.Query().Limit(f.limit).Offset(f.offset)
	if f.vector != "" {
		v, err := parseVector(f.vector)
		if err != nil {
			return q, err
		}
		q = q.WithVector(v)
	}
	if f.value != "" {
		q = q.WithValue(f.value)
	}
	if f.text != "" {
		q = q.WithText(f.text)
	}
	if f.mode != "" {
		m, err := holodex.ParseMode(f.mode)
		if err != nil {
			return q, err
		}
		q = q.Mode(m)
	}
	if f.metric != "" {
		m, err := holodex.ParseMetric(f.metric)
		if err != nil {
			return q, err
		}
		q = q.Metric(m)
	}
	if f.where != "" {
		q = q.Filter(f.where)
	}
	if len(f.sel) > 0 {
		q = q.Select(f.sel...)
	}
	return q, q.Err()
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(strings.Trim(s, "[] "), ",")
	v := make([]float32, 0, len(parts))
	for _, p := range parts {
		x, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		v = append(v, float32(x))
	}
	return v, nil
}

func (a *app) printResult(res *holodex.Result) error {
	if a.asJSON {
		data, err := res.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(a.out, string(data))
		return err
	}
	cols := res.OutputColumns()
	recs := res.Records()
	rows := make([][]string, len(recs))
	for i, rec := range recs {
		row := make([]string, len(cols))
		for j, c := range cols {
			row[j] = cell(rec[c])
		}
		rows[i] = row
	}
	return a.printTable(cols, rows)
}

// embedder builds the embedding function of the configured vectorizer.
func (a *app) embedder(ctx context.Context) (*holodex.EmbeddingFunction, error) {
	cfg, err := config.Load(config.GetEnv())
	if err != nil {
		return nil, err
	}
	v, p, ok := cfg.Vectorizer(a.vectorizer)
	if !ok {
		return nil, fmt.Errorf("vectorizer %q is not configured; pass --vectorizer", a.vectorizer)
	}
	return holodex.NewEmbedder(ctx, holodex.EmbedderConfig{
		APIKey:            p.APIKey,
		BaseURL:           p.BaseURL,
		Model:             v.Model,
		Dimensions:        v.Dimensions,
		Provider:          v.Provider,
		QueryInstruction:  v.QueryInstruction,
		SourceInstruction: v.SourceInstruction,
		CacheAddrs:        cfg.Cache.Addrs,
		CachePassword:     cfg.Cache.Password,
		CacheTTL:          time.Duration(cfg.Cache.TTLSec) * time.Second,
		DailyTokenLimit:   p.Budget.DailyTokenLimit,
		MonthlyTokenLimit: p.Budget.MonthlyTokenLimit,
		RejectOverBudget:  p.Budget.Action == "reject",
		Retries:           2,
	})
}
