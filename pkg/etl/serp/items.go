package serp

import "time"

const (
	// OrganicTable holds one row per organic SERP position.
	OrganicTable = "serp_google_organic_items"

	// PAATable holds one row per people-also-ask question.
	PAATable = "serp_google_organic_paa_items"
)

// OrganicItem is one organic search result position. A position is
// identified by the query context plus its absolute rank; re-fetching
// the same SERP produces candidates with the same natural key.
type OrganicItem struct {
	ResponseID   int64
	TaskID       string
	Keyword      string
	LocationCode int64
	LanguageCode string
	Device       string
	SeDomain     string
	RankGroup    int64
	RankAbsolute int64
	Domain       string
	Title        string
	Description  string
	URL          string
	Breadcrumb   string
	Created      time.Time
}

func (i *OrganicItem) Table() string { return OrganicTable }

func (i *OrganicItem) Columns() []string {
	return []string{
		"response_id", "task_id", "keyword", "location_code", "language_code",
		"device", "se_domain", "rank_group", "rank_absolute", "domain",
		"title", "description", "url", "breadcrumb", "created_at",
	}
}

func (i *OrganicItem) Values() []any {
	return []any{
		i.ResponseID, i.TaskID, i.Keyword, i.LocationCode, i.LanguageCode,
		i.Device, i.SeDomain, i.RankGroup, i.RankAbsolute, i.Domain,
		i.Title, i.Description, i.URL, i.Breadcrumb, i.Created,
	}
}

func (i *OrganicItem) NaturalKey() map[string]any {
	return map[string]any{
		"keyword":       i.Keyword,
		"location_code": i.LocationCode,
		"language_code": i.LanguageCode,
		"device":        i.Device,
		"rank_absolute": i.RankAbsolute,
	}
}

func (i *OrganicItem) CreatedAt() time.Time { return i.Created }

// PeopleAlsoAskItem is one expanded question from a people-also-ask
// block, keyed by the question text within the query context.
type PeopleAlsoAskItem struct {
	ResponseID   int64
	TaskID       string
	Keyword      string
	LocationCode int64
	LanguageCode string
	Device       string
	RankAbsolute int64
	Question     string
	AnswerText   string
	AnswerURL    string
	AnswerDomain string
	Created      time.Time
}

func (i *PeopleAlsoAskItem) Table() string { return PAATable }

func (i *PeopleAlsoAskItem) Columns() []string {
	return []string{
		"response_id", "task_id", "keyword", "location_code", "language_code",
		"device", "rank_absolute", "question", "answer_text", "answer_url",
		"answer_domain", "created_at",
	}
}

func (i *PeopleAlsoAskItem) Values() []any {
	return []any{
		i.ResponseID, i.TaskID, i.Keyword, i.LocationCode, i.LanguageCode,
		i.Device, i.RankAbsolute, i.Question, i.AnswerText, i.AnswerURL,
		i.AnswerDomain, i.Created,
	}
}

func (i *PeopleAlsoAskItem) NaturalKey() map[string]any {
	return map[string]any{
		"keyword":       i.Keyword,
		"location_code": i.LocationCode,
		"language_code": i.LanguageCode,
		"device":        i.Device,
		"question":      i.Question,
	}
}

func (i *PeopleAlsoAskItem) CreatedAt() time.Time { return i.Created }
