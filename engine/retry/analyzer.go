// Package retry implements the Intelligent Retry Subsystem: the Retry
// Analyzer (C6) classifies a failure and picks a backoff strategy, and
// the Budget Manager (C7) decides whether a task has any retries left.
// Both are consulted by the enrichment worker and the DLQ processor
// before either retries a failed job or gives up on it.
package retry

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexusmem/graphrag/engine/domain"
	"github.com/nexusmem/graphrag/engine/store/relational"
)

// knownPattern is a compiled-in signature. Classify matches only against
// this table; the learned table in Postgres is written by learn but is not
// read back.
type knownPattern struct {
	substr   string
	class    domain.ErrorClass
	strategy domain.RetryStrategy
}

var builtinPatterns = []knownPattern{
	{"rate limit", domain.ErrorClassRateLimited, domain.RetryExponential},
	{"429", domain.ErrorClassRateLimited, domain.RetryExponential},
	{"timeout", domain.ErrorClassTransient, domain.RetryExponential},
	{"connection refused", domain.ErrorClassTransient, domain.RetryLinear},
	{"context deadline exceeded", domain.ErrorClassTransient, domain.RetryLinear},
	{"temporary", domain.ErrorClassTransient, domain.RetryImmediate},
	{"unauthorized", domain.ErrorClassPermanent, domain.RetryNone},
	{"forbidden", domain.ErrorClassPermanent, domain.RetryNone},
	{"not found", domain.ErrorClassPermanent, domain.RetryNone},
	{"invalid", domain.ErrorClassPermanent, domain.RetryNone},
}

// Analyzer classifies errors against the compiled-in patterns and records
// each match's occurrence in the relational error-pattern table.
type Analyzer struct {
	patterns *relational.ErrorPatternRepo
}

// NewAnalyzer creates an Analyzer backed by the relational error-pattern table.
func NewAnalyzer(patterns *relational.ErrorPatternRepo) *Analyzer {
	return &Analyzer{patterns: patterns}
}

// Classify matches err's message, case-insensitively, against the
// compiled-in patterns, returning the best-guess ErrorClass and
// RetryStrategy. Patterns stored in the error-pattern table are not
// consulted. An error that
// matches nothing is domain.ErrorClassUnknown with exponential backoff,
// the conservative default.
func (a *Analyzer) Classify(ctx context.Context, err error) (domain.ErrorClass, domain.RetryStrategy) {
	msg := strings.ToLower(err.Error())

	for _, p := range builtinPatterns {
		if strings.Contains(msg, p.substr) {
			a.learn(ctx, p.substr, p.class, p.strategy)
			return p.class, p.strategy
		}
	}
	return domain.ErrorClassUnknown, domain.RetryExponential
}

// learn records (or bumps) the pattern's occurrence count so the Retry
// Analyzer's decision history is auditable. Classify does not read these
// rows back.
func (a *Analyzer) learn(ctx context.Context, match string, class domain.ErrorClass, strategy domain.RetryStrategy) {
	if a.patterns == nil {
		return
	}
	_ = a.patterns.Upsert(ctx, domain.ErrorPattern{
		ID:       patternID(match),
		Match:    match,
		Class:    class,
		Strategy: strategy,
		LastSeen: time.Now().UTC(),
	})
}

// patternID derives a stable id for a pattern so repeated upserts of the
// same substring converge on one row instead of duplicating.
func patternID(match string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(match)).String()
}
