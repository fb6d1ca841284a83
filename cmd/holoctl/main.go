// Command holoctl inspects and queries holodex tables from the shell.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kailas-cloud/holodex"
	"github.com/kailas-cloud/holodex/internal/config"
	logpkg "github.com/kailas-cloud/holodex/internal/logger"
	"github.com/kailas-cloud/holodex/internal/version"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(&app{out: os.Stdout})
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// app carries the global flags shared by every command.
type app struct {
	out io.Writer

	uri        string
	apiKey     string
	region     string
	asJSON     bool
	vectorizer string
	logLevel   string

	// conn, when set, is used instead of dialing uri and is never closed.
	conn *holodex.Connection
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "holoctl",
		Short:         "Query and manage holodex tables",
		Long:          `holoctl talks to Hologres Cloud, a Postgres-compatible server or an in-process store through the holodex client.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.uri, "uri", "", "connection URI: holo://, postgres:// or memory:// (default $"+config.EnvURI+")")
	pf.StringVar(&a.apiKey, "api-key", "", "cloud API key (default $"+config.EnvAPIKey+")")
	pf.StringVar(&a.region, "region", "", "cloud region (default $"+config.EnvRegion+")")
	pf.BoolVar(&a.asJSON, "json", false, "print JSON instead of a table")
	pf.StringVar(&a.vectorizer, "vectorizer", "", "vectorizer from config/<env>.yaml used to embed --value probes")
	pf.StringVar(&a.logLevel, "log-level", "", "log client operations at this level (debug, info, warn)")

	root.AddCommand(
		newTablesCmd(a),
		newSearchCmd(a),
		newIndexCmd(a),
		newCountCmd(a),
		newDeleteCmd(a),
	)
	return root
}

// withConn runs fn on a connection to the configured URI. An empty URI
// falls back to the HOLOGRES_* environment.
func (a *app) withConn(ctx context.Context, fn func(*holodex.Connection) error) error {
	if a.conn != nil {
		return fn(a.conn)
	}
	var opts []holodex.Option
	if a.apiKey != "" {
		opts = append(opts, holodex.WithAPIKey(a.apiKey))
	}
	if a.region != "" {
		opts = append(opts, holodex.WithRegion(a.region))
	}
	if a.logLevel != "" {
		l, err := logpkg.NewLogger("local", a.logLevel)
		if err != nil {
			return err
		}
		defer func() { _ = l.Sync() }()
		opts = append(opts, holodex.WithLogger(l))
	}
	return holodex.WithConnection(ctx, a.uri, fn, opts...)
}

// withTable opens name and runs fn on it.
func (a *app) withTable(ctx context.Context, name string, fn func(*holodex.Table) error, opts ...holodex.TableOption) error {
	return a.withConn(ctx, func(c *holodex.Connection) error {
		t, err := c.OpenTable(ctx, name, opts...)
		if err != nil {
			return err
		}
		return fn(t)
	})
}
