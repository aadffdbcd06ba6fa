package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohans/mineru-api/asyncx"
	"github.com/mohans/mineru-api/internal/analyzer"
)

func pollUntil(t *testing.T, timeout time.Duration, f func() (bool, error)) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		ok, err := f()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitStatus(t *testing.T, store asyncx.Store, id string, want asyncx.Status) *asyncx.TaskRecord {
	t.Helper()
	var rec *asyncx.TaskRecord
	err := pollUntil(t, 5*time.Second, func() (bool, error) {
		r, err := store.GetByID(context.Background(), id)
		if err != nil {
			return false, nil
		}
		rec = r
		return r.Status == want, nil
	})
	if err != nil {
		t.Fatalf("task %s did not reach %s (last=%+v): %v", id, want, rec, err)
	}
	return rec
}

// fakeMinerU writes every artifact next to the input, like the real tool.
var fakeMinerU = analyzer.Func(func(ctx context.Context, in analyzer.Input) (analyzer.Artifacts, error) {
	name := analyzer.Stem(in.PDFPath)
	arts := analyzer.Artifacts{}
	for kind, file := range analyzer.FileNames(name) {
		p := filepath.Join(in.OutputDir, file)
		if err := os.WriteFile(p, []byte(kind), 0o644); err != nil {
			return nil, err
		}
		arts[kind] = p
	}
	return arts, nil
})

func failingAnalyzer(msg string) analyzer.Analyzer {
	return analyzer.Func(func(ctx context.Context, in analyzer.Input) (analyzer.Artifacts, error) {
		return nil, errors.New(msg)
	})
}
