package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"exam-flash/internal/apperr"
)

// TextSource yields the page texts of a document. It is the only way the
// pipeline reads files.
type TextSource interface {
	Pages(ctx context.Context, path string) ([]string, error)
}

// FileTextSource reads pdf, docx, markdown and plain text files from disk.
type FileTextSource struct{}

func NewFileTextSource() *FileTextSource {
	return &FileTextSource{}
}

// SupportedExtensions lists the extensions Pages can read.
var SupportedExtensions = []string{".pdf", ".docx", ".md", ".txt"}

func (s *FileTextSource) Pages(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		pages []string
		err   error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		pages, err = pdfPages(path)
	case ".docx":
		pages, err = docxPages(path)
	case ".md", ".markdown":
		pages, err = markdownPages(path)
	case ".txt", "":
		pages, err = plainPages(path)
	default:
		return nil, apperr.New(apperr.InvalidInput, "unsupported document type %q", ext)
	}
	if err != nil {
		return nil, apperr.Upstream(err, filepath.Base(path), "read document text")
	}
	return pages, nil
}

func pdfPages(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	numPages := r.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		pages = append(pages, content)
	}
	return pages, nil
}

// docxPages returns one page per explicit form feed; Word documents carry no
// reliable page geometry.
func docxPages(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat docx: %w", err)
	}
	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	var b strings.Builder
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		for _, child := range para.Children {
			run, ok := child.(*docx.Run)
			if !ok {
				continue
			}
			for _, rc := range run.Children {
				if t, ok := rc.(*docx.Text); ok {
					b.WriteString(t.Text)
				}
			}
		}
		b.WriteByte('\n')
	}
	return splitPages(b.String()), nil
}

func markdownPages(path string) ([]string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}
	return splitPages(markdownText(src)), nil
}

// markdownText flattens a markdown document to plain lines, one per block
// or soft line break.
func markdownText(src []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					line := lines.At(i)
					b.Write(line.Value(src))
				}
			}
			return ast.WalkSkipChildren, nil
		default:
			if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func plainPages(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	return splitPages(string(raw)), nil
}

func splitPages(content string) []string {
	return strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\f")
}
