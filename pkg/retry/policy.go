package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy bounds retries for one (stage, class) pair. Attempts counts
// retries after the first try, so Attempts permits Attempts+1 calls in
// total; Attempts <= 0 means no retry.
type Policy struct {
	Attempts    int
	BaseDelayMs float64
	MaxDelayMs  float64
	Jitter      bool
}

// DefaultPolicies returns the retry table. LLM transients get three
// retries, tool-stage contract failures and transients two; policy,
// provider and unknown errors are never retried.
func DefaultPolicies() map[Stage]map[Class]Policy {
	return map[Stage]map[Class]Policy{
		StageLLM: {
			ClassTransient: {Attempts: 3, BaseDelayMs: 400, Jitter: true},
		},
		StageTool: {
			ClassTool:      {Attempts: 2, BaseDelayMs: 250, Jitter: true},
			ClassTransient: {Attempts: 2, BaseDelayMs: 250, Jitter: true},
		},
	}
}

// ComputeDelay calculates the pause after the given attempt number.
// Attempt numbers start at 1.
func ComputeDelay(p Policy, attempt int) time.Duration {
	return ComputeDelayWithRand(p, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeDelayWithRand calculates the delay using a provided random value in
// [0.0, 1.0), which makes jitter deterministic for tests.
//
// The base is baseDelayMs * 2^(attempt-1), clamped to maxDelayMs when set;
// uniform jitter in [0, baseDelayMs/2) is added after the clamp.
func ComputeDelayWithRand(p Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := p.BaseDelayMs * math.Pow(2, exp)

	if p.MaxDelayMs > 0 {
		base = math.Min(p.MaxDelayMs, base)
	}

	jitter := 0.0
	if p.Jitter {
		jitter = p.BaseDelayMs / 2 * randomValue
	}

	return time.Duration(math.Round(base+jitter)) * time.Millisecond
}
