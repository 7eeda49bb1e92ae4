package progress

type Phase string

const (
	PhaseEmbedding Phase = "embedding"
	PhaseUploading Phase = "uploading"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

// Event reports how far one ingestion run has got. Processed and Total count
// work units, not chunks: every chunk is embedded and then stored, and the
// catalog write is the last unit, so Processed only grows and reaches Total
// on the done event.
type Event struct {
	DocumentID string `json:"document_id"`
	Processed  int    `json:"processed"`
	Total      int    `json:"total"`
	Phase      Phase  `json:"phase"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message,omitempty"`
}

func NewEvent(documentID string, processed, total int, phase Phase) Event {
	pct := 0
	if total > 0 {
		pct = processed * 100 / total
	}
	if pct > 100 {
		pct = 100
	}
	return Event{
		DocumentID: documentID,
		Processed:  processed,
		Total:      total,
		Phase:      phase,
		Percentage: pct,
	}
}
