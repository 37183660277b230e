package storage

// Persisted keys. The namespace is flat; values are JSON.
const (
	KeyCNLInterceptActive     = "settings.cnlInterceptActive"
	KeyContextMenuSimple      = "settings.contextMenuSimple"
	KeyDefaultPreferredDevice = "settings.defaultPreferredDevice"
	KeyCNLDialogActive        = "settings.cnlDialogActive"
	KeyLastUsedDevice         = "settings.lastUsedDevice"
	KeySession                = "session.current"
	KeyCNLQueue               = "cnlQueue"
	KeyCNLPending             = "cnlPending"
	KeyConnectionState        = "myjd.connectionState"
)
