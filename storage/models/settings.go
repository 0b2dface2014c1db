package models

import "encoding/json"

// DefaultSettings is the document written on first access to a user's
// settings. The schema is owned by the settings UI; this subsystem only
// stores and forwards the blob.
func DefaultSettings() json.RawMessage {
	return json.RawMessage(`{"premiumHighlight":false}`)
}
