// Package classify delegates relevance and severity judgments to the
// Anthropic API and validates what comes back. Source URLs and timestamps
// are always taken from the candidates, never from model output.
package classify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/cost"
	"github.com/sells-group/screening-cli/internal/metrics"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/resilience"
	"github.com/sells-group/screening-cli/pkg/anthropic"
)

// ErrMalformed is returned when the model output cannot be decoded after
// every re-request.
var ErrMalformed = eris.New("classify: malformed model output")

// Classifier modes, used as metric labels.
const (
	ModeAdverse   = "adverse"
	ModeWatchlist = "watchlist"
)

// Drop reasons, used as metric labels.
const (
	ReasonBadIndex        = "bad_index"
	ReasonMissingURL      = "missing_url"
	ReasonScoreRange      = "score_range"
	ReasonUnknownCategory = "unknown_category"
	ReasonBelowConfidence = "below_confidence"
)

const reparsePrompt = `Your previous reply could not be parsed. Reply again with only the JSON described in the instructions, no prose and no code fences.`

// Buckets maps a watchlist confidence score to a level: score >= High is
// High, score >= Medium is Medium, anything else Low.
type Buckets struct {
	High   float64
	Medium float64
}

// Level returns the bucket of score.
func (b Buckets) Level(score float64) model.ConfidenceLevel {
	switch {
	case score >= b.High:
		return model.ConfidenceHigh
	case score >= b.Medium:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// Options configures a Classifier.
type Options struct {
	Model              string
	MaxTokens          int64
	BatchSize          int
	MaxBatchChars      int
	MaxReparseAttempts int
	// MinConfidence drops adverse findings the model is unsure about.
	MinConfidence float64
	Concurrency   int
	Buckets       Buckets
	// Categories is the accepted category set. Empty accepts any non-empty
	// category the model returns.
	Categories []model.Category
	Policy     resilience.Policy
	Metrics    *metrics.Manager
	Cost       *cost.Calculator
	Now        func() time.Time
}

// Usage accumulates token spend and batch outcomes across one operation.
type Usage struct {
	anthropic.TokenUsage
	Calls         int     `json:"calls"`
	Batches       int     `json:"batches"`
	FailedBatches int     `json:"failed_batches"`
	Dropped       int     `json:"dropped"`
	CostUSD       float64 `json:"cost_usd"`
}

func (u *Usage) add(o Usage) {
	u.TokenUsage.Add(o.TokenUsage)
	u.Calls += o.Calls
	u.Batches += o.Batches
	u.FailedBatches += o.FailedBatches
	u.Dropped += o.Dropped
	u.CostUSD += o.CostUSD
}

// Classifier evaluates candidates in batches.
type Classifier struct {
	client     anthropic.Client
	opts       Options
	categories map[string]model.Category
}

// New creates a Classifier. Zero options take conservative defaults.
func New(client anthropic.Client, opts Options) *Classifier {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.MaxBatchChars <= 0 {
		opts.MaxBatchChars = 24000
	}
	if opts.MaxReparseAttempts < 0 {
		opts.MaxReparseAttempts = 0
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.Buckets == (Buckets{}) {
		opts.Buckets = Buckets{High: 0.8, Medium: 0.5}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cats := make(map[string]model.Category, len(opts.Categories))
	for _, c := range opts.Categories {
		cats[strings.ToLower(string(c))] = c
	}
	return &Classifier{client: client, opts: opts, categories: cats}
}

// evaluate sends one batch prompt and decodes the reply, re-requesting
// malformed output up to MaxReparseAttempts times.
func (c *Classifier) evaluate(ctx context.Context, mode, system, prompt string, decode func(string) error) (Usage, error) {
	u := Usage{Batches: 1}
	msgs := []anthropic.Message{{Role: "user", Content: prompt}}
	sys := anthropic.BuildCachedSystemBlocks(system, "")

	for attempt := 0; ; attempt++ {
		req := anthropic.MessageRequest{
			Model:     c.opts.Model,
			MaxTokens: c.opts.MaxTokens,
			System:    sys,
			Messages:  msgs,
		}
		resp, err := resilience.DoVal(ctx, c.opts.Policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			u.Calls++
			r, err := c.client.CreateMessage(ctx, req)
			return r, callError(err)
		})
		if err != nil {
			c.opts.Metrics.ClassifierCall(mode, "error")
			u.FailedBatches = 1
			return u, eris.Wrapf(err, "classify: %s batch", mode)
		}
		u.TokenUsage.Add(resp.Usage)
		u.CostUSD += c.opts.Cost.Claude(c.opts.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens,
			resp.Usage.CacheCreationInputTokens, resp.Usage.CacheReadInputTokens)

		text := resp.Text()
		derr := decode(text)
		if derr == nil {
			c.opts.Metrics.ClassifierCall(mode, "ok")
			return u, nil
		}
		if attempt >= c.opts.MaxReparseAttempts {
			c.opts.Metrics.ClassifierCall(mode, "malformed")
			u.FailedBatches = 1
			return u, eris.Wrapf(ErrMalformed, "%s batch after %d attempts: %v", mode, attempt+1, derr)
		}
		zap.L().Debug("classify: re-requesting malformed output",
			zap.String("mode", mode),
			zap.Int("attempt", attempt+1),
			zap.Error(derr),
		)
		msgs = append(msgs,
			anthropic.Message{Role: "assistant", Content: text},
			anthropic.Message{Role: "user", Content: reparsePrompt},
		)
	}
}

// callError marks retryable API failures as transient.
func callError(err error) error {
	if err == nil || !anthropic.Retryable(err) {
		return err
	}
	var apiErr *anthropic.APIError
	status := 0
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return resilience.NewTransientError(err, status)
}

// batches splits candidates by item count and rendered size. An item larger
// than maxChars gets a batch of its own.
func batches(items []string, size, maxChars int) [][]int {
	var out [][]int
	var cur []int
	chars := 0
	for i, it := range items {
		if len(cur) > 0 && (len(cur) >= size || chars+len(it) > maxChars) {
			out = append(out, cur)
			cur, chars = nil, 0
		}
		cur = append(cur, i)
		chars += len(it)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func inUnit(v *float64) bool {
	return v != nil && *v >= 0 && *v <= 1
}

