// Package review implements C8: dispatching review requests to model
// providers with retry, fallback chain, and quorum accounting. The
// fan-out across a session's required review types is adapted from the
// teacher's generic internal/worker.Pool[T] (index-preserving goroutine
// fan-out), widened to use golang.org/x/sync/errgroup so a single
// provider's context cancellation or panic doesn't strand the others. Each
// provider also sits behind a github.com/sony/gobreaker circuit breaker so
// a chain doesn't keep calling a provider it has already seen fail
// repeatedly within a session.
package review

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/agentctl/orchestrator/internal/metrics"
)

// ErrorType classifies a review executor failure.
type ErrorType string

const (
	ErrKeyMissing  ErrorType = "KEY_MISSING"
	ErrKeyInvalid  ErrorType = "KEY_INVALID"
	ErrRateLimited ErrorType = "RATE_LIMITED"
	ErrNetwork     ErrorType = "NETWORK_ERROR"
	ErrTimeout     ErrorType = "TIMEOUT"
	ErrParse       ErrorType = "PARSE_ERROR"
	ErrReviewFailed ErrorType = "REVIEW_FAILED"
)

// permanent error types never retry and never fall back within the same
// provider (the router may still try a different provider in the chain).
var permanentTypes = map[ErrorType]bool{
	ErrKeyMissing: true,
	ErrKeyInvalid: true,
}

// IsPermanent reports whether t should never be retried.
func IsPermanent(t ErrorType) bool { return permanentTypes[t] }

// IsTransient reports whether t should be retried before falling back.
func IsTransient(t ErrorType) bool {
	switch t {
	case ErrRateLimited, ErrNetwork, ErrTimeout:
		return true
	default:
		return false
	}
}

// ExecError is the typed error an executor returns, carrying enough to
// drive the retry/fallback decision.
type ExecError struct {
	Type ErrorType
	Err  error
}

func (e *ExecError) Error() string { return fmt.Sprintf("%s: %v", e.Type, e.Err) }
func (e *ExecError) Unwrap() error { return e.Err }

// Classify maps an HTTP status code and message fragment to an ErrorType,
// per spec §4.8's taxonomy.
func Classify(httpStatus int, message string) ErrorType {
	lower := strings.ToLower(message)
	switch {
	case httpStatus == 401 || httpStatus == 403 || strings.Contains(lower, "invalid api key"):
		return ErrKeyInvalid
	case strings.Contains(lower, "api key") && strings.Contains(lower, "missing"):
		return ErrKeyMissing
	case httpStatus == 429:
		return ErrRateLimited
	case httpStatus >= 500 || strings.Contains(lower, "connection reset"):
		return ErrNetwork
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return ErrTimeout
	case strings.Contains(lower, "unparseable") || strings.Contains(lower, "parse"):
		return ErrParse
	default:
		return ErrReviewFailed
	}
}

// Context is the material a provider needs to perform a review.
type Context struct {
	Diff        string   `json:"diff,omitempty"`
	Files       []string `json:"files,omitempty"`
	Task        string   `json:"task,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	PhaseNotes  []string `json:"phase_notes,omitempty"`
}

// Finding is one issue a provider reported.
type Finding struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Request describes one review dispatch. CorrelationID, when set, is
// threaded through to the executor and back into ReviewMetadata so a
// review can be traced across process boundaries (the executor is an
// out-of-process CLI tool or HTTP endpoint, per spec §1).
type Request struct {
	CorrelationID string
	ReviewType    string
	Context       Context
	PrimaryModel  string
	FallbackChain []string
	// MaxFallbackTries caps how many entries of FallbackChain are actually
	// dispatched after the primary fails; 0 (or >= len(FallbackChain))
	// means the whole chain is eligible.
	MaxFallbackTries int
}

// Executor is the out-of-scope collaborator boundary: each provider is an
// opaque endpoint the router calls and classifies failures from.
type Executor interface {
	Call(ctx context.Context, reviewType string, rc Context, model string) (rawOutput []byte, findings []Finding, err error)
}

// Result is the outcome of routing one Request.
type Result struct {
	CorrelationID  string
	Success        bool
	Model          string
	WasFallback    bool
	FallbackReason string
	FallbacksTried []string
	ErrorType      ErrorType
	Findings       []Finding
	RawOutputRef   string
}

// Router dispatches review requests with retry, fallback, and quorum
// accounting. It is stateless beyond a per-session fallback counter used
// for reporting, plus one circuit breaker per provider model encountered.
type Router struct {
	Executor Executor

	BaseDelay  time.Duration
	Factor     float64
	MaxAttempts int
	Jitter     float64

	// Metrics records dispatch attempts and fallback counts. A nil Metrics
	// is valid; every observation becomes a no-op.
	Metrics *metrics.Metrics

	mu              sync.Mutex
	fallbacksUsed   int
	breakers        map[string]*gobreaker.CircuitBreaker
}

// NewRouter constructs a Router with the spec's default backoff
// parameters (base=1s, factor=2, max_attempts=3, jitter=±20%).
func NewRouter(executor Executor) *Router {
	return &Router{
		Executor:    executor,
		BaseDelay:   time.Second,
		Factor:      2,
		MaxAttempts: 3,
		Jitter:      0.2,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (r *Router) breakerFor(model string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[model]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "review-" + model,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	r.breakers[model] = cb
	return cb
}

// FallbacksUsed reports how many times this Router has fallen through to a
// non-primary model, for operator-facing reporting.
func (r *Router) FallbacksUsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fallbacksUsed
}

// Route dispatches req through [primary, ...fallbacks], retrying transient
// failures with backoff before cascading, and never retrying or falling
// back within the same provider on a permanent failure. The fallback chain
// is truncated to req.MaxFallbackTries entries when set.
func (r *Router) Route(ctx context.Context, req Request) (result Result) {
	start := time.Now()
	defer func() {
		model := result.Model
		if model == "" {
			model = req.PrimaryModel
		}
		r.Metrics.ObserveReview(req.ReviewType, model, result.Success, result.WasFallback, time.Since(start))
	}()

	fallbacks := req.FallbackChain
	if req.MaxFallbackTries > 0 && req.MaxFallbackTries < len(fallbacks) {
		fallbacks = fallbacks[:req.MaxFallbackTries]
	}
	models := append([]string{req.PrimaryModel}, fallbacks...)

	var lastErrType ErrorType
	var fallbacksTried []string

	for i, model := range models {
		findings, raw, errType, err := r.callWithRetry(ctx, req, model)
		if err == nil {
			result := Result{
				CorrelationID:  req.CorrelationID,
				Success:        true,
				Model:          model,
				WasFallback:    i > 0,
				FallbacksTried: fallbacksTried,
				Findings:       findings,
				RawOutputRef:   raw,
			}
			if i > 0 {
				result.FallbackReason = string(lastErrType)
				r.mu.Lock()
				r.fallbacksUsed++
				r.mu.Unlock()
			}
			return result
		}

		lastErrType = errType
		if i < len(models)-1 {
			fallbacksTried = append(fallbacksTried, model)
		}
	}

	return Result{CorrelationID: req.CorrelationID, Success: false, ErrorType: lastErrType, FallbacksTried: fallbacksTried}
}

// callWithRetry retries transient failures against a single model up to
// MaxAttempts, stopping immediately on a permanent error. PARSE_ERROR gets
// exactly one retry, per spec.
func (r *Router) callWithRetry(ctx context.Context, req Request, model string) (findings []Finding, rawRef string, errType ErrorType, err error) {
	cb := r.breakerFor(model)

	attempts := r.MaxAttempts
	delay := r.BaseDelay

	for attempt := 0; attempt < attempts; attempt++ {
		callResult, callErr := cb.Execute(func() (any, error) {
			raw, f, cerr := r.Executor.Call(ctx, req.ReviewType, req.Context, model)
			if cerr != nil {
				return nil, cerr
			}
			return execOutcome{raw: raw, findings: f}, nil
		})

		if callErr == nil {
			out := callResult.(execOutcome)
			return out.findings, fmt.Sprintf("%x", len(out.raw)), "", nil
		}

		var execErr *ExecError
		thisType := ErrNetwork
		if errors.As(callErr, &execErr) {
			thisType = execErr.Type
		} else if errors.Is(callErr, gobreaker.ErrOpenState) || errors.Is(callErr, gobreaker.ErrTooManyRequests) {
			thisType = ErrNetwork
		}

		if IsPermanent(thisType) {
			return nil, "", thisType, callErr
		}

		isLastParseRetry := thisType == ErrParse && attempt >= 1
		if (!IsTransient(thisType) && thisType != ErrParse) || isLastParseRetry {
			return nil, "", thisType, callErr
		}

		if attempt == attempts-1 {
			return nil, "", thisType, callErr
		}

		sleepCtx(ctx, jittered(delay, r.Jitter))
		delay = time.Duration(float64(delay) * r.Factor)
		errType = thisType
	}
	return nil, "", errType, fmt.Errorf("exhausted retries")
}

type execOutcome struct {
	raw      []byte
	findings []Finding
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * jitter
	return time.Duration(float64(d) * (1 + delta))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// QuorumPolicy configures how many successful review types satisfy a
// REVIEW-class phase item.
type QuorumPolicy struct {
	RequiredReviews []string
	MinimumRequired int
	OnInsufficient  string // "warn" | "block"
}

// QuorumOutcome is the result of evaluating quorum across a set of routed
// results for one item.
type QuorumOutcome struct {
	Satisfied bool
	Succeeded int
	ShouldBlock bool
}

// EvaluateQuorum reports whether at least MinimumRequired of
// RequiredReviews succeeded, and whether failure should block Advance
// (on_insufficient="block") or just warn.
func (q QuorumPolicy) EvaluateQuorum(results map[string]Result) QuorumOutcome {
	succeeded := 0
	for _, rt := range q.RequiredReviews {
		if res, ok := results[rt]; ok && res.Success {
			succeeded++
		}
	}
	satisfied := succeeded >= q.MinimumRequired
	outcome := QuorumOutcome{Satisfied: satisfied, Succeeded: succeeded}
	if !satisfied && q.OnInsufficient == "block" {
		outcome.ShouldBlock = true
	}
	return outcome
}

// DispatchAll fans a request out across every required review type
// concurrently via errgroup, returning each type's Result keyed by type.
// A single provider erroring never cancels the others' in-flight calls
// (errgroup.Group without WithContext is used deliberately: see below).
func DispatchAll(ctx context.Context, router *Router, reviewTypes []string, build func(reviewType string) Request) map[string]Result {
	results := make(map[string]Result, len(reviewTypes))
	var mu sync.Mutex

	g := new(errgroup.Group)
	for _, rt := range reviewTypes {
		rt := rt
		g.Go(func() error {
			res := router.Route(ctx, build(rt))
			mu.Lock()
			results[rt] = res
			mu.Unlock()
			return nil // individual provider failures are recorded in Result, not propagated
		})
	}
	_ = g.Wait()
	return results
}
