package cnl

import (
	"io"
	"log/slog"
	"net/http"
)

const maxBodyBytes = 4 << 20

// Handler serves the CNL endpoints on a real loopback listener for pages
// whose traffic is not routed through the browser hooks.
type Handler struct {
	Interceptor *Interceptor
}

// NewHandler returns a handler answering through ic.
func NewHandler(ic *Interceptor) *Handler {
	ic.MarkInstalled()
	return &Handler{Interceptor: ic}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var body any
	contentType := r.Header.Get("Content-Type")
	if r.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			slog.Warn("cnl listener body read failed", "path", r.URL.Path, "error", err)
		}
		if len(raw) > 0 {
			body = raw
		}
	}
	if body == nil && len(r.URL.Query()) > 0 {
		body = r.URL.Query()
	}

	source := r.Header.Get("Referer")
	if source == "" {
		source = r.Header.Get("Origin")
	}

	// The listener only ever sees CNL traffic, so classify against the
	// canonical host regardless of which loopback alias the page used.
	target := "http://" + LoopbackHosts[1] + r.URL.RequestURI()
	resp, _ := h.Interceptor.Intercept(r.Context(), Request{
		URL:         target,
		Body:        body,
		ContentType: contentType,
		SourceURL:   source,
	})
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.Status)
	_, _ = io.WriteString(w, resp.Body)
}
