package queue

import (
	"strings"
	"time"
)

// Stage represents a job's position in the pipeline lifecycle.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageDownloading  Stage = "downloading"
	StageDownloaded   Stage = "downloaded"
	StageTranscribing Stage = "transcribing"
	StageTranscribed  Stage = "transcribed"
	StageFailed       Stage = "failed"
)

var allStages = []Stage{
	StageQueued,
	StageDownloading,
	StageDownloaded,
	StageTranscribing,
	StageTranscribed,
	StageFailed,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, stage := range allStages {
		set[stage] = struct{}{}
	}
	return set
}()

// transientStages are the in-flight labels stamped at claim time.
var transientStages = map[Stage]struct{}{
	StageDownloading:  {},
	StageTranscribing: {},
}

// stageRollbacks maps each transient stage to the terminal stage an
// interrupted job reverts to.
var stageRollbacks = map[Stage]Stage{
	StageDownloading:  StageQueued,
	StageTranscribing: StageDownloaded,
}

// AllStages returns the ordered list of known stages.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// IsTransient reports whether a stage reflects an in-flight claim.
func IsTransient(stage Stage) bool {
	_, ok := transientStages[stage]
	return ok
}

// RollbackStage returns the terminal stage an interrupted transient job
// reverts to.
func RollbackStage(transient Stage) (Stage, bool) {
	to, ok := stageRollbacks[transient]
	return to, ok
}

// ProcessingStatus tracks an anime's overall progress through the pipeline.
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingActive    ProcessingStatus = "processing"
	ProcessingCompleted ProcessingStatus = "completed"
	ProcessingFailed    ProcessingStatus = "failed"
)

// Anime is a catalog row keyed by its external MAL id.
type Anime struct {
	ID            int64
	MALID         int64
	Title         string
	TitleEnglish  string
	TitleJapanese string
	TitleSynonyms []string
	Type          string
	EpisodesTotal int
	AiredFrom     string
	AiredTo       string
	Season        string
	Year          int
	Genres        []string
	Themes        []string
	Demographics  []string
	Studios       []string
	Score         float64
	Rank          int
	Popularity    int
	Source        string
	Rating        string
	DurationMin   int
	Processing    ProcessingStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Job is one (anime, episode) unit of work.
type Job struct {
	ID                  int64
	AnimeID             int64
	MALID               int64
	AnimeTitle          string
	Episode             int
	Stage               Stage
	Progress            float64
	CreatedAt           time.Time
	UpdatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	ErrorMessage        string
	RetryCount          int
	MaxRetries          int
	VideoPath           string
	TranscriptPath      string
	VideoSizeBytes      *int64
	AudioSizeBytes      *int64
	TranscriptSizeBytes *int64
	VideoDeleted        bool
	AudioDeleted        bool
	Priority            int
	DependsOn           *int64
	WorkerID            string
	LastHeartbeat       *time.Time
}

// NewJob describes a job to enqueue.
type NewJob struct {
	AnimeID    int64
	MALID      int64
	AnimeTitle string
	Episode    int
	Priority   int
	MaxRetries int
	DependsOn  *int64
}

// StagePatch carries the optional fields a stage commit writes. Size fields
// are write-once: a commit never overwrites a previously recorded size.
type StagePatch struct {
	VideoPath           string
	TranscriptPath      string
	VideoSizeBytes      *int64
	AudioSizeBytes      *int64
	TranscriptSizeBytes *int64
}

// FileKind selects which deletion flag MarkFileDeleted sets.
type FileKind string

const (
	FileVideo FileKind = "video"
	FileAudio FileKind = "audio"
)

// Selection confidence values written by the title-selection collaborator.
const (
	ConfidenceHigh         = "high"
	ConfidenceMedium       = "medium"
	ConfidenceLow          = "low"
	ConfidenceNoCandidates = "no_candidates"
)

// Episode-count reconciliation values.
const (
	EpisodeMatchExact      = "exact"
	EpisodeMatchClose      = "close"
	EpisodeMatchAcceptable = "acceptable"
	EpisodeMatchMismatch   = "mismatch"
	EpisodeMatchUnknown    = "unknown"
)

// Selection is a cached title-selection result keyed by MAL id.
type Selection struct {
	MALID            int64
	AnimeTitle       string
	SearchQuery      string
	SelectedIndex    int
	SelectedTitle    string
	Confidence       string
	Reason           string
	MALEpisodes      *int
	SelectedEpisodes *int
	EpisodeMatch     string
	CreatedAt        time.Time
}

// Unselectable reports whether the selection marks the anime as having no
// usable candidates; such jobs fail terminally at the download stage.
func (s *Selection) Unselectable() bool {
	return s.Confidence == ConfidenceNoCandidates || s.SelectedIndex < 0
}

// SearchTitle returns the title handed to the downloader. Episode-count
// suffixes like " (12 eps)" confuse the tool's search, so everything from
// the first " (" on is stripped.
func (s *Selection) SearchTitle() string {
	title := s.SelectedTitle
	if idx := strings.Index(title, " ("); idx >= 0 {
		title = title[:idx]
	}
	return strings.TrimSpace(title)
}

// Worker is a registered runner worker.
type Worker struct {
	ID            string
	WorkerType    string
	StartedAt     time.Time
	LastHeartbeat time.Time
}

// Stats aggregates job counts per stage plus preserved byte totals.
type Stats struct {
	Total           int
	ByStage         map[Stage]int
	VideoBytes      int64
	AudioBytes      int64
	TranscriptBytes int64
}
