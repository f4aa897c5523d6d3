package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewPromInstancesAreIndependent(t *testing.T) {
	first := NewProm("cos_test")
	// A second instance with the same namespace must not collide.
	second := NewProm("cos_test")

	first.IncRequest("getFileData")
	first.IncRequest("getFileData")
	second.IncRequest("getFileData")

	if got := testutil.ToFloat64(first.requests.WithLabelValues("getFileData")); got != 2 {
		t.Fatalf("first instance count = %v", got)
	}
	if got := testutil.ToFloat64(second.requests.WithLabelValues("getFileData")); got != 1 {
		t.Fatalf("second instance count = %v", got)
	}
}

func TestPromptResolvedEmptyChoiceIsDismissed(t *testing.T) {
	p := NewProm("cos_test")
	p.IncPromptResolved("")
	if got := testutil.ToFloat64(p.promptsResolve.WithLabelValues("dismissed")); got != 1 {
		t.Fatalf("dismissed count = %v", got)
	}
}
