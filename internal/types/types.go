package types

import "time"

// JobState identifies one stage of the transcription pipeline.
type JobState string

// Pipeline states. COMPRESSING and CHUNKING are skipped when the planner
// decides the file fits the provider limit as-is.
const (
	StateQueued       JobState = "QUEUED"
	StateDownloading  JobState = "DOWNLOADING"
	StateSizing       JobState = "SIZING"
	StateCompressing  JobState = "COMPRESSING"
	StateChunking     JobState = "CHUNKING"
	StateTranscribing JobState = "TRANSCRIBING"
	StateMerging      JobState = "MERGING"
	StateFormatting   JobState = "FORMATTING"
	StateUploading    JobState = "UPLOADING"
	StateNotifying    JobState = "NOTIFYING"
	StateCompleted    JobState = "COMPLETED"
	StateFailed       JobState = "FAILED"
)

// Terminal reports whether the state is immutable.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// FileCandidate identifies one media file discovered in a change batch.
// ID must be stable across re-deliveries of the same physical file.
type FileCandidate struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
	Extension  string    `json:"extension"`
}

// TranscriptionJob tracks one file through the pipeline.
type TranscriptionJob struct {
	ID          string           `json:"id"`
	File        FileCandidate    `json:"file"`
	State       JobState         `json:"state"`
	Plan        *ChunkPlan       `json:"plan,omitempty"`
	Attempts    map[JobState]int `json:"attempts,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// ChunkDescriptor is one time slice of the source timeline.
type ChunkDescriptor struct {
	Index        int     `json:"index"`
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
}

// Duration returns the slice length in seconds.
func (c ChunkDescriptor) Duration() float64 {
	return c.EndSeconds - c.StartSeconds
}

// ChunkPlan is an ordered partition of [0, total duration). Computed once
// per job and immutable afterwards.
type ChunkPlan struct {
	WindowSeconds float64           `json:"window_seconds"`
	Chunks        []ChunkDescriptor `json:"chunks"`
}

// ChunkResult holds the chunk-relative segments for one chunk.
type ChunkResult struct {
	Index    int                 `json:"index"`
	Segments []TranscriptSegment `json:"segments"`
}

// TranscriptSegment is one timed span of speech. Chunk-relative before
// merge, original-timeline after.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the merged output for a whole file.
type Transcript struct {
	Text            string              `json:"text"`
	Segments        []TranscriptSegment `json:"segments"`
	Language        string              `json:"language"`
	DurationSeconds float64             `json:"duration_seconds"`
	ChunkCount      int                 `json:"chunk_count"`
	ProcessedAt     time.Time           `json:"processed_at"`
}

// WordCount counts whitespace-separated words in the transcript text.
func (t *Transcript) WordCount() int {
	count := 0
	inWord := false
	for _, r := range t.Text {
		switch r {
		case ' ', '\t', '\n', '\r':
			inWord = false
		default:
			if !inWord {
				count++
			}
			inWord = true
		}
	}
	return count
}
