package ltv

import (
	"strconv"

	"github.com/8001800/charta/core/types"
)

// EventTypeLogError is emitted when an evaluation rejects an offer; the
// errorIndex attribute carries the ErrorIndex value.
const EventTypeLogError = "ltv.log_error"

// NewLogErrorEvent returns the audit payload for a rejected evaluation.
func NewLogErrorEvent(index ErrorIndex) *types.Event {
	return &types.Event{
		Type: EventTypeLogError,
		Attributes: map[string]string{
			"errorIndex": strconv.FormatUint(uint64(index), 10),
		},
	}
}
