package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fumiama/go-docx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exam-flash/internal/apperr"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPlainTextPagesSplitOnFormFeed(t *testing.T) {
	path := writeFile(t, "paper.txt", "1 Which gas?\r\nA oxygen\f2 Which metal?\nB iron")

	pages, err := NewFileTextSource().Pages(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"1 Which gas?\nA oxygen", "2 Which metal?\nB iron"}, pages)
}

func TestMarkdownPagesKeepLines(t *testing.T) {
	path := writeFile(t, "scheme.md", "# Mark scheme\n\n1 A 1\nOxygen is released.\n\n2 C\n")

	pages, err := NewFileTextSource().Pages(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Mark scheme\n1 A 1\nOxygen is released.\n2 C\n", pages[0])
}

func TestDocxPagesReadParagraphs(t *testing.T) {
	w := docx.New().WithDefaultTheme()
	w.AddParagraph().AddText("1 Which gas is produced?")
	w.AddParagraph().AddText("A oxygen")

	path := filepath.Join(t.TempDir(), "paper.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = w.WriteTo(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	pages, err := NewFileTextSource().Pages(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Contains(t, pages[0], "1 Which gas is produced?\n")
	assert.Contains(t, pages[0], "A oxygen\n")
}

func TestPagesErrors(t *testing.T) {
	src := NewFileTextSource()

	_, err := src.Pages(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.Equal(t, apperr.UpstreamFailure, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "missing.txt")

	_, err = src.Pages(context.Background(), "slides.pptx")
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Pages(ctx, "paper.txt")
	assert.ErrorIs(t, err, context.Canceled)
}
