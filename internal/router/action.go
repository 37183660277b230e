package router

// Action is the closed set of message kinds the router understands.
type Action int

const (
	ActionUnknown Action = iota

	// State queries.
	ActionConnectionStatus
	ActionSessionInfo
	ActionCheckWorker
	ActionCloseWorker
	ActionWake
	ActionSetConnectionState
	ActionConnectionStateChange
	ActionUpdateBadge
	ActionCNLPing

	// Worker-backed operations.
	ActionLogin
	ActionLogout
	ActionWhoami
	ActionListDevices
	ActionSubmitLink
	ActionSubmitCNL

	// Queue operations.
	ActionQueueList
	ActionQueueRemove
	ActionQueueClear
	ActionCloseToolbar
	ActionSelectionResult

	// CNL capture ingestion and backlog.
	ActionCNLCaptured
	ActionCNLQueue
	ActionCNLQueueClear

	// Shim lifecycle.
	ActionTabRemoved
	ActionContextMenuClick
	ActionContentScriptInjected
	ActionIsActiveOnTab
	ActionDevicePoll
	ActionSendFeedback
)

var actionNames = map[Action]string{
	ActionConnectionStatus:      "connection-status",
	ActionSessionInfo:           "session-info",
	ActionCheckWorker:           "check-offscreen",
	ActionCloseWorker:           "close-offscreen",
	ActionWake:                  "wake",
	ActionSetConnectionState:    "set-connection-state",
	ActionConnectionStateChange: "CONNECTION_STATE_CHANGE",
	ActionUpdateBadge:           "update-badge",
	ActionCNLPing:               "cnl-ping",
	ActionLogin:                 "login",
	ActionLogout:                "logout",
	ActionWhoami:                "whoami",
	ActionListDevices:           "list-devices",
	ActionSubmitLink:            "submit-link",
	ActionSubmitCNL:             "submit-cnl",
	ActionQueueList:             "queue-list",
	ActionQueueRemove:           "queue-remove",
	ActionQueueClear:            "queue-clear",
	ActionCloseToolbar:          "close-in-page-toolbar",
	ActionSelectionResult:       "selection-result",
	ActionCNLCaptured:           "cnl-captured",
	ActionCNLQueue:              "cnl-queue",
	ActionCNLQueueClear:         "cnl-queue-clear",
	ActionTabRemoved:            "tab-removed",
	ActionContextMenuClick:      "context-menu-click",
	ActionContentScriptInjected: "tab-contentscript-injected",
	ActionIsActiveOnTab:         "is-active-on-tab",
	ActionDevicePoll:            "device-poll",
	ActionSendFeedback:          "send-feedback",
}

// Names the popup and toolbar scripts still send.
var legacyNames = map[string]Action{
	"devices-pull":        ActionListDevices,
	"add-link":            ActionSubmitLink,
	"add-cnl":             ActionSubmitCNL,
	"link-info":           ActionQueueList,
	"remove-request":      ActionQueueRemove,
	"remove-all-requests": ActionQueueClear,
	"device-poll-start":   ActionDevicePoll,
	"device-poll-stop":    ActionDevicePoll,
}

var actionsByName = func() map[string]Action {
	m := make(map[string]Action, len(actionNames)+len(legacyNames))
	for a, name := range actionNames {
		m[name] = a
	}
	for name, a := range legacyNames {
		m[name] = a
	}
	return m
}()

// ParseAction maps a message's action string to an Action. Unknown names
// yield ActionUnknown.
func ParseAction(name string) Action {
	return actionsByName[name]
}

// IsLegacyName reports whether name is an older alias of its action.
func IsLegacyName(name string) bool {
	_, ok := legacyNames[name]
	return ok
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}
