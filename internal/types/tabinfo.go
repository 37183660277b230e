package types

// TabInfo is the snapshot of a browser tab as reported by the extension shim.
// Captured at the moment a submission is queued and never updated afterwards.
type TabInfo struct {
	ID         int    `json:"id"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	FavIconURL string `json:"favIconUrl,omitempty"`
}
