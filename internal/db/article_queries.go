package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"horse.fit/sift/internal/article"
	"horse.fit/sift/internal/globaltime"
)

// InsertIngested stores freshly collected articles. Rows whose
// canonical_key is already present are left alone, which makes the
// collect step idempotent. Returns the number of new rows.
func (p *Pool) InsertIngested(ctx context.Context, articles []article.Article) (int, error) {
	if p == nil || p.gdb == nil {
		return 0, fmt.Errorf("database pool is not initialized")
	}
	if len(articles) == 0 {
		return 0, nil
	}

	res := p.gdb.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "canonical_key"}},
			DoNothing: true,
		}).
		Create(&articles)
	if res.Error != nil {
		return 0, fmt.Errorf("insert ingested articles: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// ListByState returns working records in a state, oldest scrape first
// so processing order is stable across interrupted runs.
func (p *Pool) ListByState(ctx context.Context, state article.State) ([]article.Article, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	var articles []article.Article
	res := p.gdb.WithContext(ctx).
		Where("processing_state = ?", string(state)).
		Order("date_scraped ASC, id ASC").
		Find(&articles)
	if res.Error != nil {
		return nil, fmt.Errorf("list articles in state %s: %w", state, res.Error)
	}
	return articles, nil
}

// SaveArticles writes back the mutated working records in one
// transaction.
func (p *Pool) SaveArticles(ctx context.Context, articles []*article.Article) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	if len(articles) == 0 {
		return nil
	}

	tx := p.gdb.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("begin save: %w", tx.Error)
	}
	for _, a := range articles {
		if res := tx.Save(a); res.Error != nil {
			tx.Rollback()
			return fmt.Errorf("save article %s: %w", a.CanonicalKey, res.Error)
		}
	}
	if res := tx.Commit(); res.Error != nil {
		return fmt.Errorf("commit save: %w", res.Error)
	}
	return nil
}

// CountByState reports how many working records sit in each state.
func (p *Pool) CountByState(ctx context.Context) (map[article.State]int64, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	type row struct {
		ProcessingState string
		N               int64
	}
	var rows []row
	res := p.gdb.WithContext(ctx).
		Model(&article.Article{}).
		Select("processing_state, count(*) as n").
		Group("processing_state").
		Scan(&rows)
	if res.Error != nil {
		return nil, fmt.Errorf("count articles by state: %w", res.Error)
	}

	counts := make(map[article.State]int64, len(rows))
	for _, r := range rows {
		counts[article.State(r.ProcessingState)] = r.N
	}
	return counts, nil
}

// daysCutoff is the scrape-time boundary n days back from the
// pipeline clock. Cutoffs are computed here rather than with the
// database's now() so every window decision runs on the same clock.
func daysCutoff(days int) time.Time {
	return globaltime.UTC().AddDate(0, 0, -days)
}

// RecentArticles returns records scraped within the dedup window, for
// rebuilding the rolling index at run start.
func (p *Pool) RecentArticles(ctx context.Context, sinceDays int) ([]article.Article, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	var articles []article.Article
	res := p.gdb.WithContext(ctx).
		Where("date_scraped >= ?", daysCutoff(sinceDays)).
		Order("date_scraped DESC").
		Find(&articles)
	if res.Error != nil {
		return nil, fmt.Errorf("list recent articles: %w", res.Error)
	}
	return articles, nil
}

// PurgeProcessed removes terminal records older than the dedup window.
// The working store is disposable; pruning keeps it small.
func (p *Pool) PurgeProcessed(ctx context.Context, olderThanDays int) (int64, error) {
	if p == nil || p.gdb == nil {
		return 0, fmt.Errorf("database pool is not initialized")
	}

	res := p.gdb.WithContext(ctx).
		Where("processing_state IN ?", []string{
			string(article.StateProcessed),
			string(article.StateRejected),
		}).
		Where("date_scraped < ?", daysCutoff(olderThanDays)).
		Delete(&article.Article{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge processed articles: %w", res.Error)
	}
	return res.RowsAffected, nil
}
