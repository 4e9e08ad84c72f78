package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/olga/go-assistant/internal/replay"
	"github.com/danielpatrickdp/olga/go-assistant/internal/session"
	"github.com/danielpatrickdp/olga/go-assistant/internal/state"
)

var (
	dbPath     string
	outPath    string
	userName   string
	last       int
	candidates int
)

var rootCmd = &cobra.Command{
	Use:   "fixture-export",
	Short: "Export a stored conversation as a replay fixture",
	Long: `Each stored user turn followed by a reply becomes one interaction whose
first candidate answers with the stored reply. Stored error replies become
interactions in which every candidate fails.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if dbPath == "" || outPath == "" {
			return errors.New("usage: fixture-export --db path/to/olga.db --out path/to/fixture.json [--user name] [--last N]")
		}
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&dbPath, "db", "", "path to the assistant database")
	rootCmd.Flags().StringVar(&outPath, "out", "", "output fixture JSON path")
	rootCmd.Flags().StringVar(&userName, "user", "", "profile name (empty for the anonymous log)")
	rootCmd.Flags().IntVar(&last, "last", 20, "number of most recent stored turns to export")
	rootCmd.Flags().IntVar(&candidates, "candidates", 3, "failing candidates scripted for error turns")
}

// #region main

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region export

func run(ctx context.Context) error {
	store, err := state.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	prof := state.Profile{Name: userName}
	if userName != "" {
		p, err := store.GetProfile(ctx, userName)
		switch {
		case err == nil:
			prof = p
		case !errors.Is(err, state.ErrNotFound):
			return fmt.Errorf("load profile: %w", err)
		}
	}

	tag := session.UserTag(userName)
	turns, err := store.LoadTurns(ctx, tag, last)
	if err != nil {
		return fmt.Errorf("load turns: %w", err)
	}
	if len(turns) == 0 {
		return fmt.Errorf("no stored turns for %s", tag)
	}

	f := replay.FromTurns(fmt.Sprintf("exported from %s (%s)", dbPath, tag), prof, turns, candidates)
	if err := f.Write(outPath); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %d interactions to %s\n", len(f.Interactions), outPath)
	return nil
}

// #endregion export
