package cnl

import "net/http"

const (
	capabilityBody = "var jdownloader = true;"
	crossDomainXML = `<?xml version="1.0"?>
<cross-domain-policy>
  <site-control permitted-cross-domain-policies="master-only"/>
  <allow-access-from domain="*"/>
  <allow-http-request-headers-from domain="*" headers="*"/>
</cross-domain-policy>`
	submissionBody = "OK"
)

// Response is a synthetic answer handed back to the page in place of a
// real network round trip.
type Response struct {
	Status      int
	ContentType string
	Body        string
}

func capabilityResponse() Response {
	return Response{Status: http.StatusOK, ContentType: "text/javascript", Body: capabilityBody}
}

func crossDomainResponse() Response {
	return Response{Status: http.StatusOK, ContentType: "text/xml", Body: crossDomainXML}
}

func submissionResponse() Response {
	return Response{Status: http.StatusOK, ContentType: "text/plain", Body: submissionBody}
}

// suppressedResponse answers unrecognized loopback paths. The request never
// reaches the network.
func suppressedResponse() Response {
	return Response{Status: http.StatusOK, ContentType: "text/plain"}
}
