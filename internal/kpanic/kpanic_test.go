package kpanic

import "testing"

func TestBannerContainsLocationAndMessage(t *testing.T) {
	b := Banner("internal/mm/pmm/pmm.go", 42, "out of frames: %s", "critical path")

	if !contains(b, "internal/mm/pmm/pmm.go:42") {
		t.Fatalf("banner missing location:\n%s", b)
	}
	if !contains(b, "out of frames: critical path") {
		t.Fatalf("banner missing message:\n%s", b)
	}
	if !contains(b, "+") {
		t.Fatalf("banner missing box border:\n%s", b)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
