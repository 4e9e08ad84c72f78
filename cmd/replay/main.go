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
	fixturePath string
	dbPath      string
	userName    string
	last        int
	verbose     bool
)

// errMismatch marks a replay that ran but did not match its expectations.
var errMismatch = errors.New("replay mismatch")

var rootCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a fixture or a stored conversation through a real session",
	Long: `Fixture mode replays a JSON fixture with scripted candidate outcomes.
DB mode exports a user's stored conversation into a fixture first and replays
that. Exits 1 when any turn differs from its expectations, 2 on usage errors.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (dbPath == "") == (fixturePath == "") {
			return errUsage
		}
		f, err := loadFixture(cmd.Context())
		if err != nil {
			return err
		}
		return run(cmd.Context(), f)
	},
}

var errUsage = errors.New("usage: replay --fixture path/to/fixture.json | replay --db path/to/olga.db [--user name] [--last N]")

func init() {
	rootCmd.Flags().StringVar(&fixturePath, "fixture", "", "path to fixture JSON (fixture mode)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "path to the assistant database (DB mode)")
	rootCmd.Flags().StringVar(&userName, "user", "", "profile name whose log is replayed (DB mode)")
	rootCmd.Flags().IntVar(&last, "last", 50, "number of stored turns to replay (DB mode)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every turn, not just mismatches")
}

// #region main

func main() {
	err := rootCmd.Execute()
	switch {
	case err == nil:
		os.Exit(0)
	case errors.Is(err, errMismatch):
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

// #endregion main

// #region load

func loadFixture(ctx context.Context) (*replay.Fixture, error) {
	if fixturePath != "" {
		return replay.LoadFixture(fixturePath)
	}
	store, err := state.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	prof := state.Profile{Name: userName}
	if userName != "" {
		p, err := store.GetProfile(ctx, userName)
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			return nil, err
		}
		if err == nil {
			prof = p
		}
	}
	turns, err := store.LoadTurns(ctx, session.UserTag(userName), last)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	return replay.FromTurns("replay of "+session.UserTag(userName), prof, turns, 3), nil
}

// #endregion load

// #region run

func run(ctx context.Context, f *replay.Fixture) error {
	results, err := replay.Replay(ctx, f)
	if err != nil {
		return err
	}
	for _, r := range results {
		if !verbose && r.OK() {
			continue
		}
		status := "ok"
		if !r.OK() {
			status = "MISMATCH"
		}
		fmt.Printf("%-10s  %-8s  %-13s  %-10s  %-26s  attempts=%d\n",
			r.TurnID, status, r.Outcome, r.Tier, r.Model, r.Attempts)
		for _, m := range r.Mismatches {
			fmt.Printf("            %s\n", m)
		}
	}

	s := replay.Summarize(results)
	fmt.Printf("\nTurns: %d | Successes: %d | Exhausted: %d | Short-circuits: %d | Mismatches: %d\n",
		s.TotalTurns, s.Successes, s.Exhausted, s.ShortCircuits, s.Mismatches)
	if s.Mismatches > 0 {
		return errMismatch
	}
	return nil
}

// #endregion run
