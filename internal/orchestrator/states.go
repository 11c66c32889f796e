package orchestrator

import "github.com/soniclane/transcript-pipeline/internal/types"

// validTransitions encodes the forward edges of the job state machine.
// COMPRESSING and CHUNKING are optional stages, so each pre-chunk state
// can bypass them. FAILED is reachable from every non-terminal state and
// is handled separately in isValidTransition.
var validTransitions = map[types.JobState][]types.JobState{
	types.StateQueued:       {types.StateDownloading},
	types.StateDownloading:  {types.StateSizing},
	types.StateSizing:       {types.StateCompressing, types.StateChunking, types.StateTranscribing},
	types.StateCompressing:  {types.StateChunking, types.StateTranscribing},
	types.StateChunking:     {types.StateTranscribing},
	types.StateTranscribing: {types.StateMerging},
	types.StateMerging:      {types.StateFormatting},
	types.StateFormatting:   {types.StateUploading},
	types.StateUploading:    {types.StateNotifying},
	types.StateNotifying:    {types.StateCompleted},
	types.StateCompleted:    nil,
	types.StateFailed:       nil,
}

// isValidTransition reports whether a job may move from one state to
// another. A restarted worker re-enters the pipeline at DOWNLOADING, so
// that edge is open from any non-terminal state.
func isValidTransition(from, to types.JobState) bool {
	if from.Terminal() {
		return false
	}
	if to == types.StateFailed {
		return true
	}
	if to == types.StateDownloading {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
