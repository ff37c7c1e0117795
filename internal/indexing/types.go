package indexing

import "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/config"

// StatusCompleted is the only indexing status treated as terminal success.
const StatusCompleted = "completed"

type CreateDatasetRequest struct {
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	IndexingTechnique string `json:"indexing_technique,omitempty"`
	Permission        string `json:"permission,omitempty"`
}

type Dataset struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CreateDocumentRequest struct {
	Name              string       `json:"name"`
	Text              string       `json:"text"`
	IndexingTechnique string       `json:"indexing_technique"`
	DocForm           string       `json:"doc_form,omitempty"`
	DocLanguage       string       `json:"doc_language,omitempty"`
	ProcessRule       *ProcessRule `json:"process_rule,omitempty"`
}

// UpdateDocumentRequest replaces a document's text. Segmentation settings
// stay as they were at creation.
type UpdateDocumentRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type Document struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	IndexingStatus string `json:"indexing_status"`
}

// DocumentResult is returned by create and update. Batch identifies the
// asynchronous indexing job.
type DocumentResult struct {
	Document Document `json:"document"`
	Batch    string   `json:"batch"`
}

type IndexingStatus struct {
	ID                string `json:"id"`
	IndexingStatus    string `json:"indexing_status"`
	CompletedSegments int    `json:"completed_segments"`
	TotalSegments     int    `json:"total_segments"`
	Error             string `json:"error"`
}

func (s IndexingStatus) Completed() bool {
	return s.IndexingStatus == StatusCompleted
}

type ProcessRule struct {
	Mode  string `json:"mode"`
	Rules Rules  `json:"rules"`
}

type Rules struct {
	PreProcessingRules   []PreProcessingRule `json:"pre_processing_rules"`
	Segmentation         Segmentation        `json:"segmentation"`
	ParentMode           string              `json:"parent_mode,omitempty"`
	SubchunkSegmentation *Segmentation       `json:"subchunk_segmentation,omitempty"`
}

type PreProcessingRule struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

type Segmentation struct {
	Separator    string `json:"separator"`
	MaxTokens    int    `json:"max_tokens"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty"`
}

// HierarchicalRule builds a parent/child process rule: parents are split on
// the chunk separator, children on the subchunk separator with overlap.
func HierarchicalRule(seg config.SegmentationRules) *ProcessRule {
	return &ProcessRule{
		Mode: "hierarchical",
		Rules: Rules{
			PreProcessingRules: []PreProcessingRule{
				{ID: "remove_extra_spaces", Enabled: true},
				{ID: "remove_urls_emails", Enabled: false},
			},
			ParentMode: "paragraph",
			Segmentation: Segmentation{
				Separator: seg.Separator,
				MaxTokens: seg.MaxTokens,
			},
			SubchunkSegmentation: &Segmentation{
				Separator:    seg.SubchunkSeparator,
				MaxTokens:    seg.SubchunkMaxTokens,
				ChunkOverlap: seg.SubchunkChunkOverlap,
			},
		},
	}
}
