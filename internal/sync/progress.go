package sync

// Phase describes the current sync phase.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDiscovering Phase = "discovering"
	PhaseSyncing     Phase = "syncing"
	PhaseDone        Phase = "done"
)

// Progress reports sync progress to listeners.
type Progress struct {
	Phase            Phase `json:"phase"`
	FilesTotal       int   `json:"files_total"`
	FilesDone        int   `json:"files_done"`
	SessionsIngested int   `json:"sessions_ingested"`
}

// Percent returns the sync progress as a percentage (0-100).
func (p Progress) Percent() float64 {
	if p.FilesTotal == 0 {
		return 0
	}
	return float64(p.FilesDone) / float64(p.FilesTotal) * 100
}

// ProgressFunc is called with progress updates during sync.
type ProgressFunc func(Progress)
