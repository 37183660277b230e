package surface

// Context menu entry ids.
const (
	MenuSimple        = "simple_menu_item"
	MenuDownloadPage  = "download_page"
	MenuDownloadLink  = "download_link"
	MenuSelection     = "download_selection"
	MenuDownloadImage = "download_image"
	MenuDownloadVideo = "download_video"
	MenuDownloadAudio = "download_audio"
)

// MenuItem is one context menu entry.
type MenuItem struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Contexts []string `json:"contexts"`
}

// MenuUpdate tells the shim to drop every entry and create the listed ones.
type MenuUpdate struct {
	RemoveAll bool       `json:"removeAll"`
	Create    []MenuItem `json:"create"`
}

// BuildMenus returns the entries for the simple or expanded display mode.
func BuildMenus(simple bool) []MenuItem {
	if simple {
		return []MenuItem{{
			ID:       MenuSimple,
			Title:    "Download with JDownloader",
			Contexts: []string{"link", "page", "selection", "image", "video", "audio"},
		}}
	}
	return []MenuItem{
		{ID: MenuDownloadPage, Title: "Add page to JDownloader", Contexts: []string{"page"}},
		{ID: MenuDownloadLink, Title: "Add link to JDownloader", Contexts: []string{"link"}},
		{ID: MenuSelection, Title: "Add selection to JDownloader", Contexts: []string{"selection"}},
		{ID: MenuDownloadImage, Title: "Add image to JDownloader", Contexts: []string{"image"}},
		{ID: MenuDownloadVideo, Title: "Add video to JDownloader", Contexts: []string{"video"}},
		{ID: MenuDownloadAudio, Title: "Add audio to JDownloader", Contexts: []string{"audio"}},
	}
}
