package cnl

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

// Transport is an http.RoundTripper that answers CNL traffic locally and
// hands everything else to Base without touching it.
type Transport struct {
	Base        http.RoundTripper
	Interceptor *Interceptor
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Interceptor == nil || req.URL == nil || !IsCNLURL(req.URL.String()) {
		return t.base().RoundTrip(req)
	}

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = b
	}

	source := req.Header.Get("Referer")
	resp, handled := t.Interceptor.Intercept(req.Context(), Request{
		URL:         req.URL.String(),
		Body:        body,
		ContentType: req.Header.Get("Content-Type"),
		SourceURL:   source,
	})
	if !handled {
		req.Body = io.NopCloser(bytes.NewReader(body))
		return t.base().RoundTrip(req)
	}
	return resp.httpResponse(req), nil
}

func (r Response) httpResponse(req *http.Request) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", r.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	return &http.Response{
		Status:        strconv.Itoa(r.Status) + " " + http.StatusText(r.Status),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewBufferString(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// Install wraps client's transport with ic. It is a no-op returning false
// when the client is already wrapped or ic was installed elsewhere.
func Install(client *http.Client, ic *Interceptor) bool {
	if client == nil || ic == nil {
		return false
	}
	if _, ok := client.Transport.(*Transport); ok {
		return false
	}
	if !ic.MarkInstalled() {
		return false
	}
	client.Transport = &Transport{Base: client.Transport, Interceptor: ic}
	return true
}
