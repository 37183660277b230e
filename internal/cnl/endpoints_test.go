package cnl

import "testing"

func TestIsCNLURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"http://127.0.0.1:9666/flash/addcrypted2", true},
		{"http://localhost:9666/jdcheck.js", true},
		{"http://LOCALHOST:9666/jdcheck.js", true},
		{"http://127.0.0.1:9667/flash/add", false},
		{"https://example.com/?next=http://127.0.0.1:9666/flash/add", false},
		{"https://example.com/", false},
		{"127.0.0.1:9666/flash/add", true},
	}
	for _, tt := range tests {
		if got := IsCNLURL(tt.url); got != tt.want {
			t.Fatalf("IsCNLURL(%q) = %v; want %v", tt.url, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		url  string
		want Endpoint
	}{
		{"http://127.0.0.1:9666/jdcheck.js", EndpointCapabilityCheck},
		{"http://127.0.0.1:9666/crossdomain.xml", EndpointCrossDomain},
		{"http://127.0.0.1:9666/flash/addcrypted2", EndpointAddCrypted},
		{"http://127.0.0.1:9666/flash/add", EndpointAdd},
		{"http://127.0.0.1:9666/flash/add?source=x", EndpointAdd},
		{"http://127.0.0.1:9666/flash/", EndpointUnknown},
		{"http://127.0.0.1:9666/", EndpointUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.url); got != tt.want {
			t.Fatalf("Classify(%q) = %q; want %q", tt.url, got, tt.want)
		}
	}
}

func TestEndpointIsSubmission(t *testing.T) {
	for e, want := range map[Endpoint]bool{
		EndpointAdd:             true,
		EndpointAddCrypted:      true,
		EndpointCapabilityCheck: false,
		EndpointCrossDomain:     false,
		EndpointUnknown:         false,
	} {
		if got := e.IsSubmission(); got != want {
			t.Fatalf("%s.IsSubmission() = %v; want %v", e, got, want)
		}
	}
}
