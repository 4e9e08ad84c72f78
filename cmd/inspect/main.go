package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/olga/go-assistant/internal/config"
	"github.com/danielpatrickdp/olga/go-assistant/internal/logging"
	"github.com/danielpatrickdp/olga/go-assistant/internal/memory"
	"github.com/danielpatrickdp/olga/go-assistant/internal/orchestrator"
	"github.com/danielpatrickdp/olga/go-assistant/internal/selfmodel"
	"github.com/danielpatrickdp/olga/go-assistant/internal/session"
	"github.com/danielpatrickdp/olga/go-assistant/internal/state"
)

var (
	dbPath     string
	configPath string
	userName   string
	last       int
	jsonOut    bool
)

var rootCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show a user's stored conversation, cascade attempts and provenance",
	Long: `inspect reads the assistant database and prints the stored conversation of
one user, the most recent cascade attempts with per tier success rates, the
provenance rows of that user's turns and the memory DNA derived from them.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveDB()
		if err != nil {
			return err
		}
		store, err := state.NewStore(path)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer store.Close()

		report, err := buildReport(cmd.Context(), store, session.UserTag(userName), last)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(report)
		}
		printReport(report)
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&dbPath, "db", "", "path to the assistant database (default from config)")
	rootCmd.Flags().StringVar(&configPath, "config", "", "config file used to locate the database")
	rootCmd.Flags().StringVar(&userName, "user", "", "profile name (empty for the anonymous log)")
	rootCmd.Flags().IntVar(&last, "last", 20, "show N most recent rows per section")
	rootCmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON instead of tables")
}

// #region main

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func resolveDB() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return "", err
		}
		path = p
	}
	loader, err := config.LoadFromPath(path)
	if err != nil {
		return "", err
	}
	return loader.Config().Storage.DBPath, nil
}

// #endregion main

// #region report

type turnRow struct {
	Role string `json:"role"`
	Text string `json:"text"`
	At   string `json:"at"`
}

type attemptRow struct {
	TurnID    string `json:"turn_id"`
	Tier      string `json:"tier"`
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	Index     int    `json:"index"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

type tierRow struct {
	Tier  string  `json:"tier"`
	Model string  `json:"model"`
	Rate  float64 `json:"success_rate"`
}

type provenanceRow struct {
	TurnID    string   `json:"turn_id"`
	Utterance string   `json:"utterance"`
	Tier      string   `json:"tier"`
	Model     string   `json:"model,omitempty"`
	Enrichers []string `json:"enrichers,omitempty"`
	Attempts  []string `json:"attempts,omitempty"`
	Outcome   string   `json:"outcome"`
	CreatedAt string   `json:"created_at"`
}

type report struct {
	UserTag    string          `json:"user_tag"`
	Turns      []turnRow       `json:"turns"`
	Attempts   []attemptRow    `json:"attempts"`
	Tiers      []tierRow       `json:"tiers"`
	Provenance []provenanceRow `json:"provenance"`
	DNA        selfmodel.DNA   `json:"dna"`
}

var tiers = []orchestrator.Tier{
	orchestrator.TierElevated, orchestrator.TierPolitical,
	orchestrator.TierTechnical, orchestrator.TierDefault,
}

func buildReport(ctx context.Context, store *state.Store, userTag string, limit int) (*report, error) {
	r := &report{UserTag: userTag}

	turns, err := store.LoadTurns(ctx, userTag, limit)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	for _, t := range turns {
		r.Turns = append(r.Turns, turnRow{Role: string(t.Role), Text: t.Text, At: t.At.Format(time.RFC3339)})
	}

	attempts, err := orchestrator.NewAttemptMemory(store.DB())
	if err != nil {
		return nil, err
	}
	recent, err := attempts.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent attempts: %w", err)
	}
	for _, a := range recent {
		r.Attempts = append(r.Attempts, attemptRow{
			TurnID:    a.TurnID,
			Tier:      string(a.Tier),
			Model:     a.Candidate.Model,
			Provider:  string(a.Candidate.Provider),
			Index:     a.Index,
			Outcome:   string(a.Outcome),
			Reason:    a.Reason,
			LatencyMs: a.Latency.Milliseconds(),
		})
	}
	for _, tier := range tiers {
		model, rate, err := attempts.BestCandidate(ctx, tier)
		if err != nil {
			return nil, fmt.Errorf("best candidate %s: %w", tier, err)
		}
		if model != "" {
			r.Tiers = append(r.Tiers, tierRow{Tier: string(tier), Model: model, Rate: rate})
		}
	}

	if err := logging.EnsureProvenanceSchema(store.DB()); err != nil {
		return nil, err
	}
	entries, records, err := logging.RecentTurns(ctx, store.DB(), userTag, limit)
	if err != nil {
		return nil, fmt.Errorf("provenance: %w", err)
	}
	for i, e := range entries {
		row := provenanceRow{
			TurnID:    e.TurnID,
			Utterance: e.Utterance,
			Tier:      e.Tier,
			Model:     e.Model,
			Enrichers: e.Enrichers,
			Outcome:   e.Outcome,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
		if i < len(records) {
			row.Attempts = records[i].Attempts
		}
		r.Provenance = append(r.Provenance, row)
	}

	mem, err := memory.NewSQLiteStore(store.DB())
	if err != nil {
		return nil, err
	}
	remembered, err := mem.Query(ctx, memory.Query{UserTag: userTag, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	if len(remembered) > 0 {
		r.DNA = selfmodel.FromEntries(remembered)
	} else {
		r.DNA = selfmodel.FromTurns(turns)
	}
	return r, nil
}

// #endregion report

// #region output

func printReport(r *report) {
	fmt.Printf("User: %s\n\n", r.UserTag)

	fmt.Println("Conversation:")
	if len(r.Turns) == 0 {
		fmt.Println("  (empty)")
	}
	for _, t := range r.Turns {
		fmt.Printf("  %-20s  %-9s  %s\n", t.At, t.Role, truncate(t.Text, 80))
	}

	fmt.Println("\nCascade attempts:")
	fmt.Printf("%-10s  %-10s  %-26s  %-7s  %3s  %-9s  %7s  %s\n",
		"Turn", "Tier", "Model", "Kind", "#", "Outcome", "Latency", "Reason")
	fmt.Printf("%-10s+-%-10s+-%-26s+-%-7s+-%3s+-%-9s+-%7s+-%s\n",
		"----------", "----------", "--------------------------", "-------", "---", "---------", "-------", "--------")
	for _, a := range r.Attempts {
		fmt.Printf("%-10s  %-10s  %-26s  %-7s  %3d  %-9s  %5dms  %s\n",
			shortID(a.TurnID), a.Tier, a.Model, a.Provider, a.Index, a.Outcome, a.LatencyMs, truncate(a.Reason, 40))
	}

	if len(r.Tiers) > 0 {
		fmt.Println("\nBest candidate per tier:")
		for _, t := range r.Tiers {
			fmt.Printf("  %-10s  %-26s  %.2f\n", t.Tier, t.Model, t.Rate)
		}
	}

	fmt.Println("\nProvenance:")
	for _, p := range r.Provenance {
		model := p.Model
		if model == "" {
			model = "—"
		}
		fmt.Printf("  %s  %-10s  %-13s  %-26s  %s\n", p.CreatedAt, shortID(p.TurnID), p.Outcome, model, truncate(p.Utterance, 50))
		if len(p.Enrichers) > 0 {
			fmt.Printf("      enrichers: %s\n", strings.Join(p.Enrichers, ", "))
		}
		if len(p.Attempts) > 0 {
			fmt.Printf("      attempts:  %s\n", strings.Join(p.Attempts, " → "))
		}
	}

	fmt.Println("\nMemory DNA:")
	if r.DNA.Text == "" {
		fmt.Println("  (none)")
		return
	}
	fmt.Printf("  %s\n", r.DNA.Text)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

// #endregion output
