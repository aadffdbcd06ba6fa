package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type Config struct {
	Binary string // default "magic-pdf"
	Method string // auto, txt or ocr; default auto
	Runner Runner
	Logger *slog.Logger
}

// MinerU drives the magic-pdf command line tool.
type MinerU struct {
	binary string
	method string
	runner Runner
	logger *slog.Logger
}

func NewMinerU(cfg Config) *MinerU {
	m := &MinerU{
		binary: cfg.Binary,
		method: cfg.Method,
		runner: cfg.Runner,
		logger: cfg.Logger,
	}
	if m.binary == "" {
		m.binary = "magic-pdf"
	}
	if m.method == "" {
		m.method = "auto"
	}
	if m.runner == nil {
		m.runner = execRunner{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

func (m *MinerU) Analyze(ctx context.Context, in Input) (Artifacts, error) {
	if in.PDFPath == "" || in.OutputDir == "" {
		return nil, errors.New("pdf path and output dir are required")
	}
	if err := os.MkdirAll(in.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	start := time.Now()
	_, stderr, err := m.runner.Run(ctx, m.binary, m.logger,
		"-p", in.PDFPath, "-o", in.OutputDir, "-m", m.method)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if msg := strings.TrimSpace(truncate(string(stderr), 1<<10)); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", m.binary, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", m.binary, err)
	}

	arts, err := m.locate(in.OutputDir, DocNames(in.PDFPath))
	if err != nil {
		return nil, err
	}
	if err := ValidateContentList(arts[KindContentList]); err != nil {
		return nil, err
	}

	m.logger.Info("analysis finished",
		"pdf", in.PDFPath,
		"method", m.method,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return arts, nil
}

// candidateDirs lists where magic-pdf may have put its output, flat layout
// first, then the nested <name>/<method> layout of newer releases.
func (m *MinerU) candidateDirs(outputDir, name string) []string {
	return []string{
		outputDir,
		filepath.Join(outputDir, name, m.method),
		filepath.Join(outputDir, name),
	}
}

// locate returns the artifacts from the first (name, directory) pair that
// holds all of them.
func (m *MinerU) locate(outputDir string, names []string) (Artifacts, error) {
	var bestMissing []string
	for _, name := range names {
		files := FileNames(name)
		for _, dir := range m.candidateDirs(outputDir, name) {
			arts := Artifacts{}
			var missing []string
			for kind, file := range files {
				p := filepath.Join(dir, file)
				if st, err := os.Stat(p); err != nil || st.IsDir() {
					missing = append(missing, file)
					continue
				}
				arts[kind] = p
			}
			if len(missing) == 0 {
				return arts, nil
			}
			if bestMissing == nil || len(missing) < len(bestMissing) {
				bestMissing = missing
			}
		}
	}
	sort.Strings(bestMissing)
	return nil, fmt.Errorf("analysis output incomplete, missing: %s", strings.Join(bestMissing, ", "))
}
