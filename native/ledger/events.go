package ledger

import (
	"encoding/hex"

	"github.com/8001800/charta/core/types"
)

const (
	EventTypeInsertEntry    = "ledger.insert_entry"
	EventTypeModifyCreditor = "ledger.modify_creditor"
)

// NewInsertEntryEvent returns the audit payload emitted when an entry is
// inserted. The parameter blob is carried as its hash.
func NewInsertEntryEvent(e *Entry) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: EventTypeInsertEntry, Attributes: attrs}
	}
	paramsHash := e.ParametersHash()
	attrs["entryHash"] = hex.EncodeToString(e.EntryHash[:])
	attrs["version"] = hex.EncodeToString(e.Version[:])
	attrs["creditor"] = hex.EncodeToString(e.Creditor[:])
	attrs["termsContract"] = hex.EncodeToString(e.TermsContract[:])
	attrs["termsContractParametersHash"] = hex.EncodeToString(paramsHash[:])
	return &types.Event{Type: EventTypeInsertEntry, Attributes: attrs}
}

// NewModifyCreditorEvent returns the audit payload emitted when an entry's
// creditor changes.
func NewModifyCreditorEvent(entryHash [32]byte, oldCreditor, newCreditor [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeModifyCreditor,
		Attributes: map[string]string{
			"entryHash":   hex.EncodeToString(entryHash[:]),
			"oldCreditor": hex.EncodeToString(oldCreditor[:]),
			"newCreditor": hex.EncodeToString(newCreditor[:]),
		},
	}
}
