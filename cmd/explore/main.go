// Command explore inspects and edits stored explorations from the terminal,
// using the same database as the server.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ashureev/digdeeper/internal/config"
	"github.com/ashureev/digdeeper/internal/identity"
	"github.com/ashureev/digdeeper/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	dbPath   string
	ownerID  string
	maxDepth int
	timeout  time.Duration
	verbose  bool

	cfg  *config.Config
	repo *store.SQLiteStore
)

var rootCmd = &cobra.Command{
	Use:   "explore",
	Short: "Inspect and edit stored explorations",
	Long: `explore reads and writes the exploration snapshots kept by the
digdeeper server. Every command acts on behalf of one owner.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		if !identity.IsValidOwnerID(ownerID) {
			return fmt.Errorf("--owner %q is not a valid owner id", ownerID)
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("db") {
			cfg.DBPath = dbPath
		}
		if cmd.Flags().Changed("max-depth") {
			cfg.MaxSegmentDepth = maxDepth
		}
		repo, err = store.NewSQLite(cfg.DBPath)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if repo == nil {
			return nil
		}
		return repo.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: DB_PATH env)")
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner", os.Getenv("DIGDEEPER_OWNER"), "Owner id (or set DIGDEEPER_OWNER env)")
	rootCmd.PersistentFlags().IntVar(&maxDepth, "max-depth", 0, "Deepest segment depth (default: MAX_SEGMENT_DEPTH env)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(digCmd)
	rootCmd.AddCommand(rmCmd)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
