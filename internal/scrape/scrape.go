// Package scrape reads web pages as plain text for extraction prompts.
package scrape

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Reader returns the readable text of a page.
type Reader interface {
	ReadPage(ctx context.Context, url string) (string, error)
}

// Chain tries readers in order and returns the first non-empty page.
type Chain struct {
	readers []Reader
}

// NewChain creates a Chain. Nil readers are skipped.
func NewChain(readers ...Reader) *Chain {
	c := &Chain{}
	for _, r := range readers {
		if r != nil {
			c.readers = append(c.readers, r)
		}
	}
	return c
}

// ReadPage implements Reader.
func (c *Chain) ReadPage(ctx context.Context, url string) (string, error) {
	if len(c.readers) == 0 {
		return "", eris.Errorf("scrape: no readers configured for %s", url)
	}
	var errs []string
	for i, r := range c.readers {
		if err := ctx.Err(); err != nil {
			return "", eris.Wrapf(err, "scrape: read %s", url)
		}
		text, err := r.ReadPage(ctx, url)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		if err == nil {
			err = eris.New("empty page")
		}
		errs = append(errs, err.Error())
		if i < len(c.readers)-1 {
			zap.L().Debug("scrape: reader failed, trying next",
				zap.String("url", url),
				zap.Int("reader", i),
				zap.Error(err),
			)
		}
	}
	return "", eris.Errorf("scrape: all readers failed for %s: %s", url, strings.Join(errs, "; "))
}
