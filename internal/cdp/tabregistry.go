package cdp

import (
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/myjd_bridge/internal/cnl"
)

// pageContext is the interception state of one page target.
type pageContext struct {
	targetID    target.ID
	interceptor *cnl.Interceptor
}

// TabRegistry maps CDP page targets to their CNL interceptors. Each page
// gets exactly one interceptor for its lifetime.
type TabRegistry struct {
	sink cnl.Sink

	mu    sync.RWMutex
	pages map[target.ID]*pageContext
}

func NewTabRegistry(sink cnl.Sink) *TabRegistry {
	return &TabRegistry{sink: sink, pages: make(map[target.ID]*pageContext)}
}

// Register records a page at url. It reports false when the page was
// already known, in which case only its URL is updated.
func (r *TabRegistry) Register(targetID target.ID, url string) (*cnl.Interceptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pages[targetID]; ok {
		p.interceptor.SetPageURL(url)
		return p.interceptor, false
	}
	ic := cnl.New(r.sink, url)
	ic.MarkInstalled()
	r.pages[targetID] = &pageContext{targetID: targetID, interceptor: ic}
	return ic, true
}

// Navigate updates the page URL captures are attributed to.
func (r *TabRegistry) Navigate(targetID target.ID, url string) {
	if ic, ok := r.Get(targetID); ok {
		ic.SetPageURL(url)
	}
}

func (r *TabRegistry) Get(targetID target.ID) (*cnl.Interceptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pages[targetID]
	if !ok {
		return nil, false
	}
	return p.interceptor, true
}

func (r *TabRegistry) Remove(targetID target.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pages, targetID)
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pages)
}
