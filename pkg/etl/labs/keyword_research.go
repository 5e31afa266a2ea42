// Package labs processes cached keyword research responses into a
// relational keyword metrics table.
package labs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seolytics/apicache/internal/sqldb"
	"github.com/seolytics/apicache/pkg/cache"
	"github.com/seolytics/apicache/pkg/etl"
)

// KeywordTable holds one row per keyword and query locale.
const KeywordTable = "labs_keyword_research_items"

// taskStatusOK is the vendor's per-task success code.
const taskStatusOK = 20000

// KeywordItem is one keyword with its search metrics. MonthlySearches
// carries the serialized history JSON, or nil when the history is
// absent or deliberately not persisted.
type KeywordItem struct {
	ResponseID       int64
	TaskID           string
	Keyword          string
	LocationCode     int64
	LanguageCode     string
	SearchVolume     int64
	CPC              float64
	Competition      float64
	CompetitionLevel string
	MonthlySearches  *string
	Created          time.Time
}

func (i *KeywordItem) Table() string { return KeywordTable }

func (i *KeywordItem) Columns() []string {
	return []string{
		"response_id", "task_id", "keyword", "location_code", "language_code",
		"search_volume", "cpc", "competition", "competition_level",
		"monthly_searches", "created_at",
	}
}

func (i *KeywordItem) Values() []any {
	return []any{
		i.ResponseID, i.TaskID, i.Keyword, i.LocationCode, i.LanguageCode,
		i.SearchVolume, i.CPC, i.Competition, i.CompetitionLevel,
		i.MonthlySearches, i.Created,
	}
}

func (i *KeywordItem) NaturalKey() map[string]any {
	return map[string]any{
		"keyword":       i.Keyword,
		"location_code": i.LocationCode,
		"language_code": i.LanguageCode,
	}
}

func (i *KeywordItem) CreatedAt() time.Time { return i.Created }

// KeywordResearchProcessor extracts keyword metrics from keyword
// research responses. With SkipMonthlySearches set, the month-by-month
// history sub-structure is stored as null instead of JSON to save
// space.
type KeywordResearchProcessor struct {
	SkipMonthlySearches bool
}

// NewKeywordResearchProcessor creates the handler.
func NewKeywordResearchProcessor(skipMonthlySearches bool) *KeywordResearchProcessor {
	return &KeywordResearchProcessor{SkipMonthlySearches: skipMonthlySearches}
}

// Name implements etl.RowHandler.
func (p *KeywordResearchProcessor) Name() string { return "labs_keyword_research" }

// EndpointPrefixes implements etl.RowHandler.
func (p *KeywordResearchProcessor) EndpointPrefixes() []string {
	return []string{"dataforseo_labs/google/keyword_ideas", "dataforseo_labs/google/related_keywords"}
}

// Tables implements etl.RowHandler.
func (p *KeywordResearchProcessor) Tables() []string {
	return []string{KeywordTable}
}

// EnsureTables implements etl.RowHandler.
func (p *KeywordResearchProcessor) EnsureTables(ctx context.Context, db *sqldb.DB) error {
	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id %s,
				response_id BIGINT NOT NULL,
				task_id TEXT NOT NULL,
				keyword TEXT NOT NULL,
				location_code BIGINT NOT NULL,
				language_code TEXT NOT NULL,
				search_volume BIGINT,
				cpc DOUBLE PRECISION,
				competition DOUBLE PRECISION,
				competition_level TEXT,
				monthly_searches TEXT,
				created_at %s NOT NULL
			)`, KeywordTable, db.TypeAutoID(), db.TypeTimestamp()),
		fmt.Sprintf(`
			CREATE UNIQUE INDEX IF NOT EXISTS %s_key_uq
			ON %s (keyword, location_code, language_code)`,
			KeywordTable, KeywordTable),
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure keyword item table: %w", err)
		}
	}
	return nil
}

// Wire shapes of the vendor payload.
type keywordResponse struct {
	Tasks []keywordTask `json:"tasks"`
}

type keywordTask struct {
	ID         string          `json:"id"`
	StatusCode int             `json:"status_code"`
	Result     []keywordResult `json:"result"`
}

type keywordResult struct {
	LocationCode int64        `json:"location_code"`
	LanguageCode string       `json:"language_code"`
	Items        []keywordHit `json:"items"`
}

type keywordHit struct {
	Keyword     string       `json:"keyword"`
	KeywordInfo *keywordInfo `json:"keyword_info"`
}

type keywordInfo struct {
	SearchVolume     int64             `json:"search_volume"`
	CPC              float64           `json:"cpc"`
	Competition      float64           `json:"competition"`
	CompetitionLevel string            `json:"competition_level"`
	MonthlySearches  []json.RawMessage `json:"monthly_searches"`
}

// HandleRow implements etl.RowHandler.
func (p *KeywordResearchProcessor) HandleRow(ctx context.Context, tx sqldb.Tx, up *etl.Upserter, entry *cache.Entry) (etl.Counts, error) {
	var payload keywordResponse
	if err := json.Unmarshal(entry.ResponseBody, &payload); err != nil {
		return etl.Counts{}, fmt.Errorf("parse keyword response: %w", err)
	}
	if payload.Tasks == nil {
		return etl.Counts{}, fmt.Errorf("keyword response has no tasks")
	}

	var items []etl.Item
	for _, task := range payload.Tasks {
		if task.StatusCode != taskStatusOK {
			continue
		}

		for _, result := range task.Result {
			for _, hit := range result.Items {
				if hit.Keyword == "" {
					continue
				}

				item := &KeywordItem{
					ResponseID:   entry.ID,
					TaskID:       task.ID,
					Keyword:      hit.Keyword,
					LocationCode: result.LocationCode,
					LanguageCode: result.LanguageCode,
					Created:      entry.CreatedAt,
				}
				if info := hit.KeywordInfo; info != nil {
					item.SearchVolume = info.SearchVolume
					item.CPC = info.CPC
					item.Competition = info.Competition
					item.CompetitionLevel = info.CompetitionLevel

					if !p.SkipMonthlySearches && len(info.MonthlySearches) > 0 {
						history, err := json.Marshal(info.MonthlySearches)
						if err != nil {
							return etl.Counts{}, fmt.Errorf("encode monthly searches for %q: %w", hit.Keyword, err)
						}
						s := string(history)
						item.MonthlySearches = &s
					}
				}
				items = append(items, item)
			}
		}
	}

	return up.Upsert(ctx, tx, items)
}
