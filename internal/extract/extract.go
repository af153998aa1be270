// Package extract builds the company profile and executive list for an
// entity from search candidates, using the Anthropic API as the reader.
package extract

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/cost"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/resilience"
	"github.com/sells-group/screening-cli/pkg/anthropic"
)

// ErrNoSources is returned when there is nothing to extract from.
var ErrNoSources = eris.New("extract: no source documents")

// PageReader returns the readable text of a web page.
type PageReader interface {
	ReadPage(ctx context.Context, url string) (string, error)
}

// Options configures an Extractor.
type Options struct {
	Model     string
	MaxTokens int64
	// TargetCompleteness is the percentage at which extraction stops
	// re-trying.
	TargetCompleteness float64
	MaxAttempts        int
	// MaxContextChars bounds the rendered source context per prompt.
	MaxContextChars int
	Policy          resilience.Policy
	Cost            *cost.Calculator
	// Reader enriches later attempts with full page text. Nil disables it.
	Reader PageReader
	Now    func() time.Time
}

// Usage is the token spend of one extraction.
type Usage struct {
	anthropic.TokenUsage
	Calls    int     `json:"calls"`
	Attempts int     `json:"attempts"`
	CostUSD  float64 `json:"cost_usd"`
}

// Extractor runs profile and executive extraction.
type Extractor struct {
	client anthropic.Client
	opts   Options
}

// New creates an Extractor. Zero options take the defaults: 95% target,
// 3 attempts, 30000 context chars.
func New(client anthropic.Client, opts Options) *Extractor {
	if opts.TargetCompleteness <= 0 {
		opts.TargetCompleteness = 95
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = 30000
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Extractor{client: client, opts: opts}
}

// TargetCompleteness returns the completeness at which a result counts as
// complete.
func (x *Extractor) TargetCompleteness() float64 { return x.opts.TargetCompleteness }

// ask sends one prompt and returns the reply text.
func (x *Extractor) ask(ctx context.Context, system, prompt string, u *Usage) (string, error) {
	req := anthropic.MessageRequest{
		Model:     x.opts.Model,
		MaxTokens: x.opts.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(system, ""),
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	}
	resp, err := resilience.DoVal(ctx, x.opts.Policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		u.Calls++
		r, err := x.client.CreateMessage(ctx, req)
		return r, callError(err)
	})
	if err != nil {
		return "", err
	}
	u.TokenUsage.Add(resp.Usage)
	u.CostUSD += x.opts.Cost.Claude(x.opts.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens,
		resp.Usage.CacheCreationInputTokens, resp.Usage.CacheReadInputTokens)
	return resp.Text(), nil
}

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

// fatal reports whether err should end the attempt loop: the context is
// done or the API rejected the request outright.
func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var apiErr *anthropic.APIError
	return errors.As(err, &apiErr) && !anthropic.Retryable(err)
}

// renderSources lists candidates for a prompt. Attempt n > 0 also inlines
// the page text of the first n sources when a reader is configured. Output
// is bounded by MaxContextChars.
func (x *Extractor) renderSources(ctx context.Context, cands []model.Candidate, attempt int, pages map[string]string) string {
	var b strings.Builder
	budget := x.opts.MaxContextChars
	for i, c := range cands {
		var item strings.Builder
		item.WriteString("Source: " + c.SourceURL + "\n")
		if c.Title != "" {
			item.WriteString("Title: " + c.Title + "\n")
		}
		if c.Snippet != "" {
			item.WriteString("Snippet: " + c.Snippet + "\n")
		}
		if x.opts.Reader != nil && i < attempt {
			if text := x.page(ctx, c.SourceURL, pages); text != "" {
				item.WriteString("Content:\n" + text + "\n")
			}
		}
		item.WriteString("\n")
		if item.Len() > budget {
			if i == 0 {
				b.WriteString(item.String()[:budget])
			}
			break
		}
		budget -= item.Len()
		b.WriteString(item.String())
	}
	return b.String()
}

func (x *Extractor) page(ctx context.Context, url string, pages map[string]string) string {
	if text, ok := pages[url]; ok {
		return text
	}
	text, err := x.opts.Reader.ReadPage(ctx, url)
	if err != nil {
		zap.L().Debug("extract: page read failed", zap.String("url", url), zap.Error(err))
	}
	pages[url] = text
	return text
}

// filled reports whether an extracted string carries information.
func filled(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	switch strings.ToLower(s) {
	case "unknown", "n/a", "na", "none", "null", "not specified", "not available", "not found":
		return false
	}
	return !strings.HasPrefix(strings.ToLower(s), "not specified")
}

// clean returns s trimmed, or empty when it carries no information.
func clean(s string) string {
	if !filled(s) {
		return ""
	}
	return strings.TrimSpace(s)
}
