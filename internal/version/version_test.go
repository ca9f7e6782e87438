package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	if !strings.HasPrefix(String(), "version: dev\n") {
		t.Fatalf("unexpected build info %q", String())
	}
	if UserAgent() != "netstats/dev" {
		t.Fatalf("unexpected user agent %q", UserAgent())
	}
}
