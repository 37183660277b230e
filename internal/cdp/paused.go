package cdp

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/myjd_bridge/internal/cnl"
)

// Gate reports whether CNL interception is switched on.
type Gate interface {
	Allows(rawURL string) bool
}

// cnlPatterns pause every request to the loopback CNL hosts.
func cnlPatterns() []*fetch.RequestPattern {
	patterns := make([]*fetch.RequestPattern, 0, len(cnl.LoopbackHosts))
	for _, host := range cnl.LoopbackHosts {
		patterns = append(patterns, &fetch.RequestPattern{
			URLPattern:   "*://" + host + "/*",
			RequestStage: fetch.RequestStageRequest,
		})
	}
	return patterns
}

// decision is what to do with a paused request: fulfill it locally or let
// it continue to the network.
type decision struct {
	fulfill bool
	status  int64
	headers []*fetch.HeaderEntry
	body    string // base64
}

// decide runs a paused request through the page's interceptor.
func decide(ctx context.Context, ic *cnl.Interceptor, gate Gate, req *network.Request) decision {
	if req == nil || ic == nil || (gate != nil && !gate.Allows(req.URL)) {
		return decision{}
	}
	resp, handled := ic.Intercept(ctx, cnl.Request{
		URL:         req.URL,
		Body:        postData(req),
		ContentType: header(req.Headers, "Content-Type"),
		SourceURL:   header(req.Headers, "Referer"),
	})
	if !handled {
		return decision{}
	}
	return decision{
		fulfill: true,
		status:  int64(resp.Status),
		headers: []*fetch.HeaderEntry{
			{Name: "Content-Type", Value: resp.ContentType},
			{Name: "Access-Control-Allow-Origin", Value: "*"},
			{Name: "Content-Length", Value: strconv.Itoa(len(resp.Body))},
		},
		body: base64.StdEncoding.EncodeToString([]byte(resp.Body)),
	}
}

// postData joins the request's post data entries, which CDP delivers
// base64 encoded.
func postData(req *network.Request) []byte {
	if !req.HasPostData || len(req.PostDataEntries) == 0 {
		return nil
	}
	var out []byte
	for _, entry := range req.PostDataEntries {
		if entry.Bytes == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			out = append(out, entry.Bytes...)
			continue
		}
		out = append(out, decoded...)
	}
	return out
}

func header(h network.Headers, name string) string {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func (d decision) action(id fetch.RequestID) chromedp.Action {
	if !d.fulfill {
		return fetch.ContinueRequest(id)
	}
	return fetch.FulfillRequest(id, d.status).WithResponseHeaders(d.headers).WithBody(d.body)
}
