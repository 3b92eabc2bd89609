package curation

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trend-curator/internal/model"
	"github.com/sells-group/trend-curator/pkg/apify"
)

// roundMode alternates keyword search and hashtag feeds so later rounds
// surface different videos.
func roundMode(round int) apify.Mode {
	if round%2 == 1 {
		return apify.ModeHashtag
	}
	return apify.ModeSearch
}

// scrape runs up to ScrapeRounds sequential rounds. Each round is deduped
// against all earlier rounds, filtered by views and recency, and stripped of
// videos this config already stored. Scraping stops once quota multiplier
// times max_vision_videos candidates have accumulated, or when a round
// returns no video id that an earlier round had not already returned. A failure in the first round fails the run; later failures
// end scraping with what was collected.
func (o *Orchestrator) scrape(ctx context.Context, rs *runState, keywords []string) ([]model.VideoCandidate, error) {
	cfg := rs.config
	target := cfg.MaxVisionVideos * o.cfg.QuotaMultiplier
	now := o.now().UTC()
	cutoff := now.AddDate(0, 0, -cfg.DateRangeDays)

	seen := make(map[string]bool)
	var kept []model.VideoCandidate

	for round := range o.cfg.ScrapeRounds {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "curation: scrape")
		}

		items, err := o.deps.Scraper.Collect(ctx, apify.CollectRequest{
			Keywords: keywords,
			Limit:    o.cfg.PerRoundLimit,
			Mode:     roundMode(round),
		})
		if err != nil {
			o.deps.Metrics.ProviderFailed("apify")
			if round == 0 {
				return nil, eris.Wrap(err, "curation: scrape round 1")
			}
			rs.log.Warn("curation: scrape round failed, keeping earlier rounds",
				zap.Int("round", round+1),
				zap.Error(err),
			)
			break
		}
		rs.stats.ScrapeRounds++
		rs.stats.Scraped += len(items)

		var fresh []model.VideoCandidate
		unseen := 0
		for _, v := range apify.NormalizeAll(items) {
			if seen[v.ID] {
				continue
			}
			seen[v.ID] = true
			unseen++

			if v.Stats.Views < cfg.MinViews {
				continue
			}
			created, ok := createdAt(&v, now)
			if !ok {
				rs.stats.DroppedNoDate++
				continue
			}
			if created.Before(cutoff) {
				continue
			}
			v.CreatedAt = &created
			fresh = append(fresh, v)
		}

		fresh, err = o.dropExisting(ctx, cfg.ID, fresh, &rs.stats)
		if err != nil {
			return nil, err
		}
		kept = append(kept, fresh...)

		rs.log.Debug("curation: scrape round",
			zap.Int("round", round+1),
			zap.Int("items", len(items)),
			zap.Int("unseen", unseen),
			zap.Int("kept", len(fresh)),
			zap.Int("total", len(kept)),
		)

		if len(kept) >= target || unseen == 0 {
			break
		}
	}

	rs.stats.AfterViewsFilter = len(kept)
	return kept, nil
}

func (o *Orchestrator) dropExisting(ctx context.Context, configID string, videos []model.VideoCandidate, stats *model.RunStats) ([]model.VideoCandidate, error) {
	if len(videos) == 0 {
		return videos, nil
	}
	ids := make([]string, len(videos))
	for i := range videos {
		ids[i] = videos[i].ID
	}
	existing, err := o.deps.Store.ExistingVideoIDs(ctx, configID, ids)
	if err != nil {
		return nil, eris.Wrap(err, "curation: check existing results")
	}
	out := videos[:0]
	for _, v := range videos {
		if existing[v.ID] {
			stats.DroppedExisting++
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// createdAt resolves a candidate's upload time from its explicit timestamp,
// falling back to the time embedded in its id.
func createdAt(v *model.VideoCandidate, now time.Time) (time.Time, bool) {
	if v.CreatedAt != nil && !v.CreatedAt.IsZero() {
		return v.CreatedAt.UTC(), true
	}
	return DecodeSnowflakeTime(v.ID, now)
}
