package medfuse

import "github.com/poiesic/medfuse/core"

// Response metadata keys.
const (
	MetaRetrievalStrategy     = "retrievalStrategy"
	MetaFallbackApplied       = "fallbackApplied"
	MetaOriginalStrategy      = "originalStrategy"
	MetaFallbackStrategy      = "fallbackStrategy"
	MetaPreFallbackConfidence = "preFallbackConfidence"
	MetaFusionMethod          = "fusionMethod"
	MetaQueryType             = "queryType"
	MetaEntitiesFound         = "entitiesFound"
	MetaEvidenceCount         = "evidenceCount"
	MetaQueryID               = "queryId"
	MetaInsufficientEvidence  = "insufficientEvidence"
)

// EvidenceView is the serialized form of one ranked piece of evidence.
type EvidenceView struct {
	Source     core.SourceType `json:"source"`
	Content    string          `json:"content"`
	Confidence float64         `json:"confidence"`
	Score      float64         `json:"score"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// Response is the result of one retrieval request.
type Response struct {
	Question   string            `json:"question"`
	Mode       core.UserMode     `json:"mode"`
	Entities   []core.Entity     `json:"entities"`
	Evidences  []EvidenceView    `json:"evidences"`
	Confidence float64           `json:"confidence"`
	Sources    []core.SourceType `json:"sources"`
	Metadata   map[string]any    `json:"metadata"`
}

// NewResponse renders a fused result for q. Fallback keys appear only when
// a fallback pass ran; insufficientEvidence only when nothing survived.
func NewResponse(q *core.ProcessedQuery, fused *core.FusedEvidence) *Response {
	r := &Response{
		Question:  q.Original,
		Mode:      q.Mode,
		Entities:  q.Entities,
		Evidences: make([]EvidenceView, 0, len(fused.Evidences)),
		Sources:   fused.Sources(),
		Metadata: map[string]any{
			MetaRetrievalStrategy: string(fused.Strategy),
			MetaFusionMethod:      string(fused.FusionMethod),
			MetaQueryType:         string(q.QueryType),
			MetaEntitiesFound:     len(q.Entities),
			MetaEvidenceCount:     len(fused.Evidences),
			MetaQueryID:           q.ID,
		},
	}
	if r.Entities == nil {
		r.Entities = []core.Entity{}
	}
	if r.Sources == nil {
		r.Sources = []core.SourceType{}
	}

	for k, v := range fused.Provenance.Map() {
		r.Metadata[k] = v
	}

	if fused.IsEmpty() {
		r.Metadata[MetaInsufficientEvidence] = true
		return r
	}

	r.Confidence = fused.CombinedConfidence
	for i, ev := range fused.Evidences {
		view := EvidenceView{
			Source:     ev.Source,
			Content:    ev.Content,
			Confidence: ev.Confidence,
			Metadata:   ev.Metadata,
		}
		if i < len(fused.Scores) {
			view.Score = fused.Scores[i]
		}
		r.Evidences = append(r.Evidences, view)
	}
	return r
}
