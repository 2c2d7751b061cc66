//go:build !windows

package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"docgen/models"
)

// fakeEngine writes a shell script that stands in for soffice. The wrapper
// always invokes: --headless --norestore --convert-to <fmt> --outdir <dir>
// <input>, so $6 is the out dir and the input base name is "input".
func fakeEngine(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "soffice")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write fake engine: %v", err)
	}
	return path
}

func workspaceWithInput(t *testing.T) (workDir, inputPath string) {
	t.Helper()
	workDir = t.TempDir()
	inputPath = filepath.Join(workDir, "input.docx")
	if err := os.WriteFile(inputPath, []byte("dummy"), 0o600); err != nil {
		t.Fatalf("failed to write input: %v", err)
	}
	return workDir, inputPath
}

func failureKind(t *testing.T, err error) models.FailureKind {
	t.Helper()
	var f *models.Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *models.Failure, got %T: %v", err, err)
	}
	return f.Kind
}

func TestConvertSuccess(t *testing.T) {
	engine := NewSofficeEngine(fakeEngine(t, `printf '%%PDF-1.7 fake body' > "$6/input.pdf"`))
	workDir, inputPath := workspaceWithInput(t)

	outPath, err := engine.Convert(context.Background(), inputPath, "pdf", workDir)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty output")
	}
}

func TestConvertFilterSuffixStripped(t *testing.T) {
	engine := NewSofficeEngine(fakeEngine(t, `printf '%%PDF-1.7 fake' > "$6/input.pdf"`))
	workDir, inputPath := workspaceWithInput(t)

	// soffice filter suffixes ("pdf:writer_pdf_Export") do not appear in
	// the output file name.
	outPath, err := engine.Convert(context.Background(), inputPath, "pdf:writer_pdf_Export", workDir)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if filepath.Base(outPath) != "input.pdf" {
		t.Fatalf("unexpected output name: %s", outPath)
	}
}

func TestConvertCrashClassified(t *testing.T) {
	engine := NewSofficeEngine(fakeEngine(t, `echo "fatal: source corrupted" >&2; exit 1`))
	workDir, inputPath := workspaceWithInput(t)

	_, err := engine.Convert(context.Background(), inputPath, "pdf", workDir)
	if kind := failureKind(t, err); kind != models.FailureEngineCrashed {
		t.Fatalf("expected engine_crashed, got %s", kind)
	}
}

func TestConvertNoOutputClassified(t *testing.T) {
	// Clean exit without producing a file: soffice reports some failures
	// on stdout with exit code 0.
	engine := NewSofficeEngine(fakeEngine(t, `echo "Error: no export filter"; exit 0`))
	workDir, inputPath := workspaceWithInput(t)

	_, err := engine.Convert(context.Background(), inputPath, "pdf", workDir)
	if kind := failureKind(t, err); kind != models.FailureInvalidOutput {
		t.Fatalf("expected engine_invalid_output, got %s", kind)
	}
}

func TestConvertBadSignatureClassified(t *testing.T) {
	engine := NewSofficeEngine(fakeEngine(t, `printf 'not a pdf at all' > "$6/input.pdf"`))
	workDir, inputPath := workspaceWithInput(t)

	_, err := engine.Convert(context.Background(), inputPath, "pdf", workDir)
	if kind := failureKind(t, err); kind != models.FailureInvalidOutput {
		t.Fatalf("expected engine_invalid_output, got %s", kind)
	}
}

func TestConvertTimeoutKillsProcessGroup(t *testing.T) {
	engine := NewSofficeEngine(fakeEngine(t, `sleep 30`))
	workDir, inputPath := workspaceWithInput(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := engine.Convert(ctx, inputPath, "pdf", workDir)
	elapsed := time.Since(start)

	if kind := failureKind(t, err); kind != models.FailureEngineTimedOut {
		t.Fatalf("expected engine_timed_out, got %s", kind)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("kill took too long: %v", elapsed)
	}
}

func TestConvertCancelClassified(t *testing.T) {
	engine := NewSofficeEngine(fakeEngine(t, `sleep 30`))
	workDir, inputPath := workspaceWithInput(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := engine.Convert(ctx, inputPath, "pdf", workDir)
	if kind := failureKind(t, err); kind != models.FailureCancelled {
		t.Fatalf("expected cancelled, got %s", kind)
	}
}

func TestConvertMissingBinary(t *testing.T) {
	engine := NewSofficeEngine(filepath.Join(t.TempDir(), "does-not-exist"))
	workDir, inputPath := workspaceWithInput(t)

	_, err := engine.Convert(context.Background(), inputPath, "pdf", workDir)
	if kind := failureKind(t, err); kind != models.FailureEngineUnavailable {
		t.Fatalf("expected engine_unavailable, got %s", kind)
	}
}

func TestProbeMissingBinary(t *testing.T) {
	engine := NewSofficeEngine(filepath.Join(t.TempDir(), "does-not-exist"))

	err := engine.Probe(context.Background())
	if kind := failureKind(t, err); kind != models.FailureEngineUnavailable {
		t.Fatalf("expected engine_unavailable, got %s", kind)
	}
}

func TestProbeSucceeds(t *testing.T) {
	engine := NewSofficeEngine(fakeEngine(t, `echo "LibreOffice 7.0.0.0"`))

	if err := engine.Probe(context.Background()); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
}
