package creditor

import (
	"encoding/hex"
	"strconv"

	"github.com/8001800/charta/core/types"
)

const (
	EventTypeDebtOfferFilled    = "creditor.debt_offer_filled"
	EventTypeDebtOfferCancelled = "creditor.debt_offer_cancelled"
	EventTypeLogError           = "creditor.log_error"
	EventTypePaused             = "creditor.paused"
	EventTypeUnpaused           = "creditor.unpaused"
)

// NewDebtOfferFilledEvent returns the audit payload emitted when a fill
// commits.
func NewDebtOfferFilledEvent(proxy, creditorAddr [20]byte, commitment, agreementID [32]byte) *types.Event {
	return &types.Event{
		Type: EventTypeDebtOfferFilled,
		Attributes: map[string]string{
			"proxy":          hex.EncodeToString(proxy[:]),
			"creditor":       hex.EncodeToString(creditorAddr[:]),
			"commitmentHash": hex.EncodeToString(commitment[:]),
			"agreementId":    hex.EncodeToString(agreementID[:]),
		},
	}
}

// NewDebtOfferCancelledEvent returns the audit payload emitted when a
// creditor permanently cancels an offer.
func NewDebtOfferCancelledEvent(proxy, creditorAddr [20]byte, commitment [32]byte) *types.Event {
	return &types.Event{
		Type: EventTypeDebtOfferCancelled,
		Attributes: map[string]string{
			"proxy":          hex.EncodeToString(proxy[:]),
			"creditor":       hex.EncodeToString(creditorAddr[:]),
			"commitmentHash": hex.EncodeToString(commitment[:]),
		},
	}
}

// NewLogErrorEvent returns the structured rejection payload for a business
// rule failure in the fill pipeline.
func NewLogErrorEvent(proxy [20]byte, code ErrorCode, creditorAddr [20]byte, commitment [32]byte) *types.Event {
	return &types.Event{
		Type: EventTypeLogError,
		Attributes: map[string]string{
			"proxy":          hex.EncodeToString(proxy[:]),
			"errorCode":      strconv.FormatUint(uint64(code), 10),
			"creditor":       hex.EncodeToString(creditorAddr[:]),
			"commitmentHash": hex.EncodeToString(commitment[:]),
		},
	}
}

// NewPausedEvent returns the payload emitted when the coordinator pauses.
func NewPausedEvent(proxy [20]byte) *types.Event {
	return &types.Event{
		Type:       EventTypePaused,
		Attributes: map[string]string{"proxy": hex.EncodeToString(proxy[:])},
	}
}

// NewUnpausedEvent returns the payload emitted when the coordinator resumes.
func NewUnpausedEvent(proxy [20]byte) *types.Event {
	return &types.Event{
		Type:       EventTypeUnpaused,
		Attributes: map[string]string{"proxy": hex.EncodeToString(proxy[:])},
	}
}
