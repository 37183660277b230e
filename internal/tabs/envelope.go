package tabs

import "encoding/json"

// Envelope is a frame on a tab's content-script channel.
//
// Frames from the gateway carry Action and, when a reply is wanted, ID.
// The content script answers with ReplyTo set to that ID. Runtime messages
// originating in the content script carry Message and an ID of their own.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Action  string          `json:"action,omitempty"`
	TabID   int             `json:"tabId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

// InjectRequest asks the shim to inject the toolbar content script.
type InjectRequest struct {
	TabID int      `json:"tabId"`
	Files []string `json:"files"`
}

// Content script actions sent by the gateway.
const (
	ActionOpenToolbar    = "open-in-page-toolbar"
	ActionLinkInfoUpdate = "link-info-update"
	ActionCloseToolbar   = "close-in-page-toolbar"
	ActionGetSelection   = "get-selection"
)

// ToolbarScript is the content script injected on demand.
const ToolbarScript = "contentscripts/toolbarContentscript.js"
