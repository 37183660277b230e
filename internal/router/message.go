package router

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dgnsrekt/myjd_bridge/internal/agent"
	"github.com/dgnsrekt/myjd_bridge/internal/types"
)

// TargetWorker marks messages addressed to the privileged worker.
const TargetWorker = "offscreen"

// Message is an inbound runtime message.
type Message struct {
	Name   string          `json:"name,omitempty"`
	Action string          `json:"action"`
	Target string          `json:"target,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`

	// Older callers put these next to action instead of inside data.
	Device *agent.Device        `json:"device,omitempty"`
	Query  *agent.AddLinksQuery `json:"query,omitempty"`
}

// Sender identifies where a message came from.
type Sender struct {
	ID  string         `json:"id"`
	Tab *types.TabInfo `json:"tab,omitempty"`
}

// Respond delivers the single response to a message.
type Respond func(v any)

// Status answers acknowledged operations.
type Status struct {
	Status string `json:"status"`
}

var statusOK = Status{Status: "ok"}

// TabRef is the {tabId} payload of queue and toolbar operations.
type TabRef struct {
	TabID     FlexInt `json:"tabId"`
	RequestID string  `json:"requestId,omitempty"`
}

// SubmitRequest is the payload of submit-link and submit-cnl.
type SubmitRequest struct {
	DeviceID string               `json:"deviceId,omitempty"`
	Device   *agent.Device        `json:"device,omitempty"`
	Query    *agent.AddLinksQuery `json:"query,omitempty"`
}

// BadgeRequest is the update-badge payload.
type BadgeRequest struct {
	Text  *string `json:"text,omitempty"`
	Color *string `json:"color,omitempty"`
}

// MenuClick is the context-menu-click payload.
type MenuClick struct {
	MenuItemID    string         `json:"menuItemId"`
	LinkURL       string         `json:"linkUrl,omitempty"`
	SrcURL        string         `json:"srcUrl,omitempty"`
	SelectionText string         `json:"selectionText,omitempty"`
	PageURL       string         `json:"pageUrl,omitempty"`
	Tab           *types.TabInfo `json:"tab,omitempty"`
}

// FlexInt decodes numbers and numeric strings. Tab ids arrive as both.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// tabIDFrom reads a tab id given either bare or as {tabId}.
func tabIDFrom(data json.RawMessage) (int, bool) {
	if len(data) == 0 {
		return 0, false
	}
	var bare FlexInt
	if err := json.Unmarshal(data, &bare); err == nil && bare != 0 {
		return int(bare), true
	}
	var ref TabRef
	if err := json.Unmarshal(data, &ref); err == nil && ref.TabID != 0 {
		return int(ref.TabID), true
	}
	return 0, false
}
