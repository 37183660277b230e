package router

import (
	"log/slog"

	"github.com/dgnsrekt/myjd_bridge/internal/queue"
	"github.com/dgnsrekt/myjd_bridge/internal/surface"
	"github.com/dgnsrekt/myjd_bridge/internal/types"
)

// handleMenuClick queues what a context menu entry was invoked on.
func (r *Router) handleMenuClick(click MenuClick) {
	if click.Tab == nil || click.Tab.ID == 0 {
		return
	}
	tab := *click.Tab
	pageURL := click.PageURL
	if pageURL == "" {
		pageURL = tab.URL
	}
	slog.Debug("context menu click", "menu_item", click.MenuItemID, "tab_id", tab.ID)

	switch click.MenuItemID {
	case surface.MenuSimple:
		switch {
		case click.SelectionText != "":
			r.requestSelection(tab, click.SelectionText)
		case click.LinkURL != "":
			r.enqueue(tab, click.LinkURL, queue.KindLink)
		case click.SrcURL != "":
			r.enqueue(tab, click.SrcURL, queue.KindLink)
		default:
			r.enqueue(tab, pageURL, queue.KindPage)
		}
	case surface.MenuDownloadPage:
		r.enqueue(tab, pageURL, queue.KindPage)
	case surface.MenuDownloadLink:
		r.enqueue(tab, click.LinkURL, queue.KindLink)
	case surface.MenuSelection:
		r.requestSelection(tab, click.SelectionText)
	case surface.MenuDownloadImage, surface.MenuDownloadVideo, surface.MenuDownloadAudio:
		r.enqueue(tab, click.SrcURL, queue.KindLink)
	default:
		slog.Warn("unknown context menu entry", "menu_item", click.MenuItemID)
	}
}

func (r *Router) enqueue(tab types.TabInfo, content string, kind queue.Kind) {
	if content == "" {
		return
	}
	r.deps.Queue.Enqueue(tab.ID, content, originOf(tab), kind)
}

// requestSelection asks the content script for the full selection; it
// answers with selection-result. The truncated menu text is queued when no
// content script is reachable.
func (r *Router) requestSelection(tab types.TabInfo, fallback string) {
	if r.deps.Tabs != nil {
		if err := r.deps.Tabs.Post(tab.ID, "get-selection", nil); err == nil {
			return
		}
	}
	r.enqueue(tab, fallback, queue.KindSelection)
}
