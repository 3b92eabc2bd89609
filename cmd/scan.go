package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trend-curator/internal/config"
	"github.com/sells-group/trend-curator/internal/scorer"
	"github.com/sells-group/trend-curator/pkg/apify"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run or inspect curation scans",
}

var scanRunCmd = &cobra.Command{
	Use:   "run <config-id>",
	Short: "Run one curation scan synchronously",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		configID := args[0]

		env, err := initCurator(ctx, config.ModeScan)
		if err != nil {
			return err
		}
		defer env.Close()

		runErr := env.Orch.Run(ctx, configID)

		sc, err := env.Store.GetConfig(ctx, configID)
		if err != nil {
			return eris.Wrap(err, "reload config")
		}
		out := map[string]any{
			"config_id":          sc.ID,
			"status":             sc.Status,
			"last_run_status":    sc.LastRunStatus,
			"last_run_stats":     sc.LastRunStats,
			"consecutive_errors": sc.ConsecutiveErrors,
			"last_error":         sc.LastError,
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return eris.Wrap(err, "encode run summary")
		}
		return runErr
	},
}

var scanScoreTop int

var scanScoreCmd = &cobra.Command{
	Use:   "score <items.json>",
	Short: "Score a JSON array of raw scraped items with the UTS scorer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}
		var items []apify.Item
		if err := json.Unmarshal(data, &items); err != nil {
			return eris.Wrapf(err, "parse %s", args[0])
		}

		scored := scoreItems(items)
		if scanScoreTop > 0 && len(scored) > scanScoreTop {
			scored = scored[:scanScoreTop]
		}
		zap.L().Info("scored items", zap.Int("items", len(items)), zap.Int("videos", len(scored)))

		fmt.Fprintln(cmd.OutOrStdout(), renderScores(scored))
		return nil
	},
}

// scoredVideo is one scored row of `scan score`.
type scoredVideo struct {
	ID         string
	Author     string
	Views      int64
	Breakdown  scorer.Breakdown
	Efficiency scorer.Efficiency
}

// scoreItems normalizes items and scores them, highest UTS first. Cascade
// counts and author efficiency are computed over the whole file.
func scoreItems(items []apify.Item) []scoredVideo {
	videos := apify.NormalizeAll(items)
	cascade := scorer.CascadeCounts(videos)

	byAuthor := make(map[string][]scorer.Stats)
	for i := range videos {
		v := &videos[i]
		byAuthor[v.Author.Username] = append(byAuthor[v.Author.Username], scorer.StatsFromCandidate(v))
	}

	out := make([]scoredVideo, 0, len(videos))
	for i := range videos {
		v := &videos[i]
		out = append(out, scoredVideo{
			ID:         v.ID,
			Author:     v.Author.Username,
			Views:      v.Stats.Views,
			Breakdown:  scorer.Score(scorer.StatsFromCandidate(v), nil, cascade[v.MusicID]),
			Efficiency: scorer.ProfileEfficiency(byAuthor[v.Author.Username]),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Breakdown.Final > out[j].Breakdown.Final
	})
	return out
}

func renderScores(scored []scoredVideo) string {
	rows := make([][]string, 0, len(scored))
	for _, s := range scored {
		rows = append(rows, []string{
			s.ID,
			s.Author,
			strconv.FormatInt(s.Views, 10),
			strconv.FormatFloat(s.Breakdown.ViralLift, 'f', 3, 64),
			strconv.FormatFloat(s.Breakdown.Retention, 'f', 3, 64),
			strconv.Itoa(s.Breakdown.CascadeCount),
			strconv.FormatFloat(s.Breakdown.Final, 'f', 2, 64),
			s.Efficiency.Status,
		})
	}
	return renderTable(
		[]string{"VIDEO", "AUTHOR", "VIEWS", "LIFT", "RETENTION", "CASCADE", "UTS", "AUTHOR STATUS"},
		rows, 2, 3, 4, 5, 6,
	)
}

func init() {
	scanScoreCmd.Flags().IntVar(&scanScoreTop, "top", 0, "show only the top N videos (0 = all)")
	scanCmd.AddCommand(scanRunCmd, scanScoreCmd)
	rootCmd.AddCommand(scanCmd)
}
