package main

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"hashmatch/internal/conf"
	"hashmatch/internal/data"
	"hashmatch/internal/server"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "hashmatch"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newApp(logger log.Logger, gs *grpc.Server, sc *server.Scheduler) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			gs,
			sc,
		),
	)
}

// setup loads the config file and builds the process logger.
func setup() (*conf.Bootstrap, log.Logger, error) {
	bc, err := conf.Load(flagconf)
	if err != nil {
		return nil, nil, err
	}
	logger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)
	logger = log.NewFilter(logger, log.FilterLevel(log.ParseLevel(bc.GetLog().GetLevel())))
	return bc, logger, nil
}

func printJSON(v any) error {
	return json.NewEncoder(os.Stdout).Encode(v)
}

var rootCmd = &cobra.Command{
	Use:          "hashmatch",
	Short:        "Perceptual hash matching service",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC server and the index scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		bc, logger, err := setup()
		if err != nil {
			return err
		}
		app, cleanup, err := wireApp(bc, logger)
		if err != nil {
			return err
		}
		defer cleanup()
		return app.Run()
	},
}

var buildSignalType string

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run one index build pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		bc, logger, err := setup()
		if err != nil {
			return err
		}
		admin, cleanup, err := wireAdmin(bc, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		results, err := admin.RebuildIndexes(cmd.Context(), buildSignalType)
		for _, r := range results {
			if perr := printJSON(map[string]any{
				"signal_type": r.SignalType,
				"built":       r.Built,
				"kind":        r.Kind.String(),
				"entries":     r.Entries,
				"checkpoint":  r.Checkpoint,
				"elapsed":     r.Elapsed.String(),
			}); perr != nil {
				return perr
			}
		}
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the stored index of every enabled signal type",
	RunE: func(cmd *cobra.Command, args []string) error {
		bc, logger, err := setup()
		if err != nil {
			return err
		}
		admin, cleanup, err := wireAdmin(bc, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		status, err := admin.IndexStatus(cmd.Context())
		if err != nil {
			return err
		}
		for _, st := range slices.Sorted(maps.Keys(status)) {
			if err := printJSON(map[string]any{"signal_type": st, "status": status[st]}); err != nil {
				return err
			}
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		bc, _, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		pool, err := data.NewPool(ctx, bc.GetData().GetDatabase())
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := data.RunMigrateWithPool(pool); err != nil {
			return err
		}
		db := stdlib.OpenDBFromPool(pool)
		defer db.Close()
		version, dirty, err := data.MigrationVersion(db)
		if err != nil {
			return err
		}
		fmt.Printf("schema at version %d (dirty=%v)\n", version, dirty)
		return nil
	},
}

var (
	bankRatio    float64
	contentMedia string
)

var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Curate banks",
}

var bankCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an enabled bank",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bc, logger, err := setup()
		if err != nil {
			return err
		}
		admin, cleanup, err := wireAdmin(bc, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		b, err := admin.CreateBank(cmd.Context(), args[0], bankRatio)
		if err != nil {
			return err
		}
		return printJSON(b)
	},
}

var bankListCmd = &cobra.Command{
	Use:   "list",
	Short: "List banks",
	RunE: func(cmd *cobra.Command, args []string) error {
		bc, logger, err := setup()
		if err != nil {
			return err
		}
		admin, cleanup, err := wireAdmin(bc, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		banks, err := admin.ListBanks(cmd.Context())
		if err != nil {
			return err
		}
		for _, b := range banks {
			if err := printJSON(b); err != nil {
				return err
			}
		}
		return nil
	},
}

var bankAddCmd = &cobra.Command{
	Use:   "add BANK SIGNAL_TYPE VALUE",
	Short: "Bank one item with a single signal",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		bc, logger, err := setup()
		if err != nil {
			return err
		}
		admin, cleanup, err := wireAdmin(bc, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		c, err := admin.AddContent(cmd.Context(), args[0], contentMedia, map[string]string{args[1]: args[2]})
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"id": c.ID, "bank": c.BankName})
	},
}

var (
	lookupThreshold int
	lookupTopK      int
)

var lookupCmd = &cobra.Command{
	Use:   "lookup SIGNAL_TYPE VALUE",
	Short: "Preview matches with every probabilistic gate bypassed",
	Long: `Preview matches with every probabilistic gate bypassed.

With --threshold or --top-k the index is queried directly: bank policy is
ignored and each hit carries its stored signal value.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bc, logger, err := setup()
		if err != nil {
			return err
		}
		admin, cleanup, err := wireAdmin(bc, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		var matches any
		switch {
		case cmd.Flags().Changed("top-k"):
			matches, err = admin.LookupTopK(cmd.Context(), args[0], args[1], lookupTopK)
		case cmd.Flags().Changed("threshold"):
			matches, err = admin.LookupRaw(cmd.Context(), args[0], args[1], lookupThreshold)
		default:
			matches, err = admin.Lookup(cmd.Context(), args[0], args[1])
		}
		if err != nil {
			return err
		}
		return printJSON(matches)
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare SIGNAL_TYPE A B",
	Short: "Measure two values against each other",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		bc, logger, err := setup()
		if err != nil {
			return err
		}
		admin, cleanup, err := wireAdmin(bc, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		c, err := admin.Compare(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		return printJSON(c)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: --conf config.yaml")
	buildCmd.Flags().StringVar(&buildSignalType, "signal-type", "", "build only this signal type")
	bankCreateCmd.Flags().Float64Var(&bankRatio, "ratio", 1.0, "matching enabled ratio in [0, 1]")
	bankAddCmd.Flags().StringVar(&contentMedia, "media-uri", "", "original media location")
	lookupCmd.Flags().IntVar(&lookupThreshold, "threshold", 0, "raw lookup within this distance")
	lookupCmd.Flags().IntVar(&lookupTopK, "top-k", 0, "raw lookup of the k closest entries")
	lookupCmd.MarkFlagsMutuallyExclusive("threshold", "top-k")

	bankCmd.AddCommand(bankCreateCmd, bankListCmd, bankAddCmd)
	rootCmd.AddCommand(serveCmd, buildCmd, statusCmd, migrateCmd, bankCmd, lookupCmd, compareCmd)
}
