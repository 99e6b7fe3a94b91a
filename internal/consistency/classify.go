package consistency

import "github.com/raphaelgruber/tripsync-go/internal/models"

// DefaultWarningThresholdMinutes is the slack below which a feasible hop is flagged.
const DefaultWarningThresholdMinutes = 15

// Classify decides whether travelMinutes fits into gapMinutes.
//
// A negative gap means the windows overlap and is always an error. A travel time longer
// than the gap is an error. Slack below warningThreshold is a warning.
func Classify(travelMinutes, gapMinutes, warningThreshold int) models.ConsistencyNote {
	switch {
	case gapMinutes < 0:
		return models.NoteError
	case travelMinutes > gapMinutes:
		return models.NoteError
	case gapMinutes-travelMinutes < warningThreshold:
		return models.NoteWarning
	default:
		return models.NoteOK
	}
}
