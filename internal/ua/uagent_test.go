package ua

import (
	"testing"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{"safari", "Chrome", " firefox "} {
		p, e := Lookup(name)
		if e != nil {
			t.Errorf("Lookup(%q) failed: %+v", name, e)
			continue
		}
		if len(p.Headers) == 0 {
			t.Errorf("profile %s has no headers", p.Name)
		}
	}
	if _, e := Lookup("netscape"); e == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestPickUserAgent(t *testing.T) {
	p, _ := Lookup("safari")
	for i := 0; i < 20; i++ {
		ua := p.PickUserAgent()
		found := false
		for _, a := range p.UserAgents {
			if a == ua {
				found = true
			}
		}
		if !found {
			t.Fatalf("picked user agent %q is not part of the profile", ua)
		}
	}
}
