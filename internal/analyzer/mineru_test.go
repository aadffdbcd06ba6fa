package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)

	gotName string
	gotArgs []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	f.gotName = name
	f.gotArgs = args
	if f.run == nil {
		return nil, nil, nil
	}
	return f.run(ctx, name, args...)
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// writeOutputs fakes magic-pdf by writing every artifact into dir.
func writeOutputs(t *testing.T, dir, name, contentList string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for kind, file := range FileNames(name) {
		body := "%PDF-1.4 fake"
		switch kind {
		case KindMarkdown:
			body = "# " + name
		case KindContentList:
			body = contentList
		}
		if err := os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", file, err)
		}
	}
}

const validContentList = `[{"type":"text","text":"hello","page_idx":0,"text_level":1},{"type":"image","img_path":"images/a.jpg","page_idx":1}]`

func TestBaseName(t *testing.T) {
	cases := map[string]string{
		"/tmp/x/sample.pdf":   "sample",
		"report.v2.pdf":       "report",
		"/a/b/no_ext":         "no_ext",
		"/a/b/with space.pdf": "with space",
	}
	for in, want := range cases {
		if got := BaseName(in); got != want {
			t.Fatalf("BaseName(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestStemAndDocNames(t *testing.T) {
	if got := Stem("/tmp/report.v2.pdf"); got != "report.v2" {
		t.Fatalf("Stem()=%q, want report.v2", got)
	}
	names := DocNames("/tmp/report.v2.pdf")
	if len(names) != 2 || names[0] != "report.v2" || names[1] != "report" {
		t.Fatalf("DocNames()=%v, want [report.v2 report]", names)
	}
	if names := DocNames("/tmp/sample.pdf"); len(names) != 1 || names[0] != "sample" {
		t.Fatalf("DocNames()=%v, want [sample]", names)
	}
}

func TestMinerU_Analyze_FlatLayout(t *testing.T) {
	out := t.TempDir()
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		writeOutputs(t, argAfter(args, "-o"), "sample", validContentList)
		return nil, nil, nil
	}}
	m := NewMinerU(Config{Binary: "magic-pdf", Method: "txt", Runner: runner})

	arts, err := m.Analyze(context.Background(), Input{PDFPath: filepath.Join(out, "sample.pdf"), OutputDir: out})
	if err != nil {
		t.Fatalf("Analyze() err=%v, want nil", err)
	}
	if runner.gotName != "magic-pdf" || argAfter(runner.gotArgs, "-m") != "txt" || argAfter(runner.gotArgs, "-p") != filepath.Join(out, "sample.pdf") {
		t.Fatalf("unexpected invocation: %s %v", runner.gotName, runner.gotArgs)
	}
	if len(arts) != len(Kinds) {
		t.Fatalf("got %d artifacts, want %d: %v", len(arts), len(Kinds), arts)
	}
	if arts[KindMarkdown] != filepath.Join(out, "sample.md") {
		t.Fatalf("markdown=%q", arts[KindMarkdown])
	}
	for kind, p := range arts {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("artifact %s at %s: %v", kind, p, err)
		}
	}
}

func TestMinerU_Analyze_NestedLayout(t *testing.T) {
	out := t.TempDir()
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		writeOutputs(t, filepath.Join(argAfter(args, "-o"), "doc", "auto"), "doc", validContentList)
		return nil, nil, nil
	}}
	m := NewMinerU(Config{Runner: runner})

	arts, err := m.Analyze(context.Background(), Input{PDFPath: "/in/doc.pdf", OutputDir: out})
	if err != nil {
		t.Fatalf("Analyze() err=%v, want nil", err)
	}
	want := filepath.Join(out, "doc", "auto", "doc_content_list.json")
	if arts[KindContentList] != want {
		t.Fatalf("content_list=%q, want %q", arts[KindContentList], want)
	}
}

func TestMinerU_Analyze_DottedNameUsesStem(t *testing.T) {
	out := t.TempDir()
	// magic-pdf names output after the path stem: report.v2/auto/report.v2_*
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		writeOutputs(t, filepath.Join(argAfter(args, "-o"), "report.v2", "auto"), "report.v2", validContentList)
		return nil, nil, nil
	}}
	m := NewMinerU(Config{Runner: runner})

	arts, err := m.Analyze(context.Background(), Input{PDFPath: "/in/report.v2.pdf", OutputDir: out})
	if err != nil {
		t.Fatalf("Analyze() err=%v, want nil", err)
	}
	dir := filepath.Join(out, "report.v2", "auto")
	if arts[KindMarkdown] != filepath.Join(dir, "report.v2.md") || arts[KindModelPDF] != filepath.Join(dir, "report.v2_model.pdf") {
		t.Fatalf("unexpected artifacts: %v", arts)
	}
}

func TestMinerU_Analyze_DottedNameFirstDotFallback(t *testing.T) {
	out := t.TempDir()
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		writeOutputs(t, argAfter(args, "-o"), "doc", validContentList)
		return nil, nil, nil
	}}
	m := NewMinerU(Config{Runner: runner})

	arts, err := m.Analyze(context.Background(), Input{PDFPath: "/in/doc.final.pdf", OutputDir: out})
	if err != nil {
		t.Fatalf("Analyze() err=%v, want nil", err)
	}
	if arts[KindMarkdown] != filepath.Join(out, "doc.md") {
		t.Fatalf("markdown=%q", arts[KindMarkdown])
	}
}

func TestMinerU_Analyze_CommandFails(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return nil, []byte("CUDA out of memory\n"), errors.New("exit status 1")
	}}
	m := NewMinerU(Config{Runner: runner})

	_, err := m.Analyze(context.Background(), Input{PDFPath: "/in/a.pdf", OutputDir: t.TempDir()})
	if err == nil {
		t.Fatalf("Analyze() err=nil, want error")
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") || !strings.Contains(err.Error(), "exit status 1") {
		t.Fatalf("error should carry exit status and stderr, got %q", err)
	}
}

func TestMinerU_Analyze_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		cancel()
		return nil, nil, errors.New("signal: killed")
	}}
	m := NewMinerU(Config{Runner: runner})

	_, err := m.Analyze(ctx, Input{PDFPath: "/in/a.pdf", OutputDir: t.TempDir()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Analyze() err=%v, want context.Canceled", err)
	}
}

func TestMinerU_Analyze_MissingArtifact(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		dir := argAfter(args, "-o")
		writeOutputs(t, dir, "a", validContentList)
		return nil, nil, os.Remove(filepath.Join(dir, "a_spans.pdf"))
	}}
	m := NewMinerU(Config{Runner: runner})

	_, err := m.Analyze(context.Background(), Input{PDFPath: "/in/a.pdf", OutputDir: t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "a_spans.pdf") {
		t.Fatalf("Analyze() err=%v, want missing a_spans.pdf", err)
	}
}

func TestMinerU_Analyze_InvalidContentList(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		writeOutputs(t, argAfter(args, "-o"), "a", `[{"type":"text","page_idx":-1}]`)
		return nil, nil, nil
	}}
	m := NewMinerU(Config{Runner: runner})

	_, err := m.Analyze(context.Background(), Input{PDFPath: "/in/a.pdf", OutputDir: t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "schema") {
		t.Fatalf("Analyze() err=%v, want schema error", err)
	}
}

func TestValidateContentList(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", validContentList, false},
		{"empty list", `[]`, false},
		{"not an array", `{"type":"text"}`, true},
		{"missing page_idx", `[{"type":"text"}]`, true},
		{"not json", `<html>`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := filepath.Join(dir, strings.ReplaceAll(tc.name, " ", "_")+".json")
			if err := os.WriteFile(p, []byte(tc.body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			err := ValidateContentList(p)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateContentList() err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestKnownKind(t *testing.T) {
	for _, k := range Kinds {
		if !KnownKind(k) {
			t.Fatalf("KnownKind(%q)=false", k)
		}
	}
	if KnownKind("pdf") {
		t.Fatalf("KnownKind(pdf)=true")
	}
}
