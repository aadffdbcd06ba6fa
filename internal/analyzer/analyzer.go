// Package analyzer wraps the external document-analysis tool that turns a
// PDF into layout, span and markdown artifacts.
package analyzer

import (
	"context"
	"path/filepath"
	"strings"
)

// Artifact kinds produced for every analyzed document.
const (
	KindModelPDF    = "model_pdf"
	KindLayoutPDF   = "layout_pdf"
	KindSpansPDF    = "spans_pdf"
	KindMarkdown    = "markdown"
	KindContentList = "content_list"
)

// Kinds lists every artifact kind in a stable order.
var Kinds = []string{KindModelPDF, KindLayoutPDF, KindSpansPDF, KindMarkdown, KindContentList}

type Input struct {
	PDFPath   string
	OutputDir string
}

// Artifacts maps an artifact kind to the file that holds it.
type Artifacts map[string]string

type Analyzer interface {
	Analyze(ctx context.Context, in Input) (Artifacts, error)
}

// Func adapts a plain function to Analyzer.
type Func func(ctx context.Context, in Input) (Artifacts, error)

func (f Func) Analyze(ctx context.Context, in Input) (Artifacts, error) { return f(ctx, in) }

// BaseName is the document name artifacts are derived from: the file's base
// name up to its first dot ("report.v2.pdf" -> "report").
func BaseName(pdfPath string) string {
	name, _, _ := strings.Cut(filepath.Base(pdfPath), ".")
	return name
}

// Stem is the file's base name without its last extension
// ("report.v2.pdf" -> "report.v2"), which is how magic-pdf names its output.
func Stem(pdfPath string) string {
	base := filepath.Base(pdfPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DocNames lists the names output may be filed under, stem first.
func DocNames(pdfPath string) []string {
	stem, first := Stem(pdfPath), BaseName(pdfPath)
	if stem == first {
		return []string{stem}
	}
	return []string{stem, first}
}

// FileNames returns the artifact file name for each kind.
func FileNames(name string) map[string]string {
	return map[string]string{
		KindModelPDF:    name + "_model.pdf",
		KindLayoutPDF:   name + "_layout.pdf",
		KindSpansPDF:    name + "_spans.pdf",
		KindMarkdown:    name + ".md",
		KindContentList: name + "_content_list.json",
	}
}

// KnownKind reports whether kind is one of Kinds.
func KnownKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
