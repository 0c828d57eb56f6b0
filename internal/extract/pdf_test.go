package extract

import (
	"context"
	"testing"

	"litagent/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEmptyInput(t *testing.T) {
	_, err := NewPDFExtractor().Extract(context.Background(), nil)
	require.ErrorIs(t, err, util.ErrNoExtractableText)
}

func TestExtractRejectsNonPDF(t *testing.T) {
	_, err := NewPDFExtractor().Extract(context.Background(), []byte("<html>rate limited</html>"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, util.ErrNoExtractableText)
}

func TestExtractHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPDFExtractor().Extract(ctx, []byte("%PDF-1.4"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestTitleAndAuthors(t *testing.T) {
	title, authors := TitleAndAuthors("\n\n  Attention Is All You Need \nA. Vaswani, N. Shazeer\n\nAbstract\n")
	assert.Equal(t, "Attention Is All You Need", title)
	assert.Equal(t, "A. Vaswani, N. Shazeer", authors)

	title, authors = TitleAndAuthors("only a title")
	assert.Equal(t, "only a title", title)
	assert.Empty(t, authors)
}
