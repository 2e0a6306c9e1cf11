package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/nexusmem/graphrag/engine/domain"
)

func TestClassifyMatchesBuiltinPatterns(t *testing.T) {
	a := NewAnalyzer(nil)
	ctx := context.Background()

	cases := []struct {
		err      string
		class    domain.ErrorClass
		strategy domain.RetryStrategy
	}{
		{"rate limit exceeded", domain.ErrorClassRateLimited, domain.RetryExponential},
		{"received 429 from upstream", domain.ErrorClassRateLimited, domain.RetryExponential},
		{"request timeout after 30s", domain.ErrorClassTransient, domain.RetryExponential},
		{"dial tcp: connection refused", domain.ErrorClassTransient, domain.RetryLinear},
		{"context deadline exceeded", domain.ErrorClassTransient, domain.RetryLinear},
		{"temporary failure in name resolution", domain.ErrorClassTransient, domain.RetryImmediate},
		{"401 unauthorized", domain.ErrorClassPermanent, domain.RetryNone},
		{"403 forbidden", domain.ErrorClassPermanent, domain.RetryNone},
		{"resource not found", domain.ErrorClassPermanent, domain.RetryNone},
		{"invalid payload", domain.ErrorClassPermanent, domain.RetryNone},
	}

	for _, c := range cases {
		class, strategy := a.Classify(ctx, errors.New(c.err))
		if class != c.class || strategy != c.strategy {
			t.Fatalf("Classify(%q) = (%s, %s), want (%s, %s)", c.err, class, strategy, c.class, c.strategy)
		}
	}
}

func TestClassifyUnknownFallsBackToExponential(t *testing.T) {
	a := NewAnalyzer(nil)
	class, strategy := a.Classify(context.Background(), errors.New("something unprecedented happened"))
	if class != domain.ErrorClassUnknown || strategy != domain.RetryExponential {
		t.Fatalf("expected unknown/exponential fallback, got (%s, %s)", class, strategy)
	}
}

func TestClassifyIsCaseInsensitive(t *testing.T) {
	a := NewAnalyzer(nil)
	class, _ := a.Classify(context.Background(), errors.New("RATE LIMIT hit"))
	if class != domain.ErrorClassRateLimited {
		t.Fatalf("expected case-insensitive match, got %s", class)
	}
}

func TestPatternIDIsStableAndDistinct(t *testing.T) {
	a := patternID("timeout")
	b := patternID("timeout")
	c := patternID("rate limit")
	if a != b {
		t.Fatal("expected patternID to be deterministic for the same input")
	}
	if a == c {
		t.Fatal("expected patternID to differ across distinct inputs")
	}
}
