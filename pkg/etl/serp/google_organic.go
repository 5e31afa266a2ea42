// Package serp processes cached search engine result pages into
// relational item tables.
package serp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seolytics/apicache/internal/sqldb"
	"github.com/seolytics/apicache/pkg/cache"
	"github.com/seolytics/apicache/pkg/etl"
)

// taskStatusOK is the vendor's per-task success code.
const taskStatusOK = 20000

// GoogleOrganicProcessor extracts organic positions and people-also-ask
// questions from Google organic SERP responses.
type GoogleOrganicProcessor struct{}

// NewGoogleOrganicProcessor creates the handler.
func NewGoogleOrganicProcessor() *GoogleOrganicProcessor {
	return &GoogleOrganicProcessor{}
}

// Name implements etl.RowHandler.
func (p *GoogleOrganicProcessor) Name() string { return "serp_google_organic" }

// EndpointPrefixes implements etl.RowHandler.
func (p *GoogleOrganicProcessor) EndpointPrefixes() []string {
	return []string{"serp/google/organic"}
}

// Tables implements etl.RowHandler.
func (p *GoogleOrganicProcessor) Tables() []string {
	return []string{OrganicTable, PAATable}
}

// EnsureTables implements etl.RowHandler.
func (p *GoogleOrganicProcessor) EnsureTables(ctx context.Context, db *sqldb.DB) error {
	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id %s,
				response_id BIGINT NOT NULL,
				task_id TEXT NOT NULL,
				keyword TEXT NOT NULL,
				location_code BIGINT NOT NULL,
				language_code TEXT NOT NULL,
				device TEXT NOT NULL,
				se_domain TEXT,
				rank_group BIGINT NOT NULL,
				rank_absolute BIGINT NOT NULL,
				domain TEXT,
				title TEXT,
				description TEXT,
				url TEXT,
				breadcrumb TEXT,
				created_at %s NOT NULL
			)`, OrganicTable, db.TypeAutoID(), db.TypeTimestamp()),
		fmt.Sprintf(`
			CREATE UNIQUE INDEX IF NOT EXISTS %s_key_uq
			ON %s (keyword, location_code, language_code, device, rank_absolute)`,
			OrganicTable, OrganicTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id %s,
				response_id BIGINT NOT NULL,
				task_id TEXT NOT NULL,
				keyword TEXT NOT NULL,
				location_code BIGINT NOT NULL,
				language_code TEXT NOT NULL,
				device TEXT NOT NULL,
				rank_absolute BIGINT NOT NULL,
				question TEXT NOT NULL,
				answer_text TEXT,
				answer_url TEXT,
				answer_domain TEXT,
				created_at %s NOT NULL
			)`, PAATable, db.TypeAutoID(), db.TypeTimestamp()),
		fmt.Sprintf(`
			CREATE UNIQUE INDEX IF NOT EXISTS %s_key_uq
			ON %s (keyword, location_code, language_code, device, question)`,
			PAATable, PAATable),
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure organic item tables: %w", err)
		}
	}
	return nil
}

// Wire shapes of the vendor payload. Only the consumed fields are
// declared; everything else in the response is ignored.
type organicResponse struct {
	Tasks []organicTask `json:"tasks"`
}

type organicTask struct {
	ID         string          `json:"id"`
	StatusCode int             `json:"status_code"`
	Data       organicTaskData `json:"data"`
	Result     []organicResult `json:"result"`
}

type organicTaskData struct {
	Device string `json:"device"`
}

type organicResult struct {
	Keyword      string       `json:"keyword"`
	SeDomain     string       `json:"se_domain"`
	LocationCode int64        `json:"location_code"`
	LanguageCode string       `json:"language_code"`
	Items        []organicHit `json:"items"`
}

type organicHit struct {
	Type         string       `json:"type"`
	RankGroup    int64        `json:"rank_group"`
	RankAbsolute int64        `json:"rank_absolute"`
	Domain       string       `json:"domain"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	URL          string       `json:"url"`
	Breadcrumb   string       `json:"breadcrumb"`
	Items        []paaElement `json:"items"`
}

type paaElement struct {
	Type     string        `json:"type"`
	Title    string        `json:"title"`
	Expanded []paaExpanded `json:"expanded_element"`
}

type paaExpanded struct {
	Description string `json:"description"`
	URL         string `json:"url"`
	Domain      string `json:"domain"`
}

// HandleRow implements etl.RowHandler.
func (p *GoogleOrganicProcessor) HandleRow(ctx context.Context, tx sqldb.Tx, up *etl.Upserter, entry *cache.Entry) (etl.Counts, error) {
	var payload organicResponse
	if err := json.Unmarshal(entry.ResponseBody, &payload); err != nil {
		return etl.Counts{}, fmt.Errorf("parse organic response: %w", err)
	}
	if payload.Tasks == nil {
		return etl.Counts{}, fmt.Errorf("organic response has no tasks")
	}

	var organic []etl.Item
	var questions []etl.Item

	for _, task := range payload.Tasks {
		if task.StatusCode != taskStatusOK {
			continue
		}
		device := task.Data.Device
		if device == "" {
			device = "desktop"
		}

		for _, result := range task.Result {
			for _, hit := range result.Items {
				switch hit.Type {
				case "organic":
					organic = append(organic, &OrganicItem{
						ResponseID:   entry.ID,
						TaskID:       task.ID,
						Keyword:      result.Keyword,
						LocationCode: result.LocationCode,
						LanguageCode: result.LanguageCode,
						Device:       device,
						SeDomain:     result.SeDomain,
						RankGroup:    hit.RankGroup,
						RankAbsolute: hit.RankAbsolute,
						Domain:       hit.Domain,
						Title:        hit.Title,
						Description:  hit.Description,
						URL:          hit.URL,
						Breadcrumb:   hit.Breadcrumb,
						Created:      entry.CreatedAt,
					})

				case "people_also_ask":
					for _, q := range hit.Items {
						if q.Title == "" {
							continue
						}
						item := &PeopleAlsoAskItem{
							ResponseID:   entry.ID,
							TaskID:       task.ID,
							Keyword:      result.Keyword,
							LocationCode: result.LocationCode,
							LanguageCode: result.LanguageCode,
							Device:       device,
							RankAbsolute: hit.RankAbsolute,
							Question:     q.Title,
							Created:      entry.CreatedAt,
						}
						if len(q.Expanded) > 0 {
							item.AnswerText = q.Expanded[0].Description
							item.AnswerURL = q.Expanded[0].URL
							item.AnswerDomain = q.Expanded[0].Domain
						}
						questions = append(questions, item)
					}
				}
			}
		}
	}

	counts, err := up.Upsert(ctx, tx, organic)
	if err != nil {
		return counts, err
	}

	paaCounts, err := up.Upsert(ctx, tx, questions)
	counts.Add(paaCounts)
	return counts, err
}
