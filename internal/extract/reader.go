package extract

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-cli/pkg/jina"
)

// JinaReader reads pages through the Jina reader API.
type JinaReader struct {
	client   jina.Client
	maxChars int
}

// NewJinaReader creates a PageReader that keeps at most maxChars of each
// page. maxChars <= 0 keeps 5000.
func NewJinaReader(client jina.Client, maxChars int) *JinaReader {
	if maxChars <= 0 {
		maxChars = 5000
	}
	return &JinaReader{client: client, maxChars: maxChars}
}

// ReadPage implements PageReader.
func (r *JinaReader) ReadPage(ctx context.Context, url string) (string, error) {
	resp, err := r.client.Read(ctx, url)
	if err != nil {
		return "", eris.Wrapf(err, "extract: read %s", url)
	}
	text := resp.Data.Content
	if len(text) > r.maxChars {
		text = text[:r.maxChars]
	}
	return text, nil
}
