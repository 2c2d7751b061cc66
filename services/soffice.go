package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"docgen/models"
)

// SofficeEngine drives one LibreOffice conversion per call. The engine runs
// as an isolated subprocess: it is known to be unstable under concurrent
// in-process use, and a subprocess is the only way to enforce a hard timeout
// by killing it.
type SofficeEngine struct {
	binary string
}

func NewSofficeEngine(binary string) *SofficeEngine {
	if binary == "" {
		binary = "soffice"
	}
	return &SofficeEngine{binary: binary}
}

// Probe verifies the engine binary exists and starts. Called once at startup;
// a failing probe must abort the service rather than admit jobs that are
// guaranteed to fail.
func (e *SofficeEngine) Probe(ctx context.Context) error {
	path, err := exec.LookPath(e.binary)
	if err != nil {
		return models.NewFailure(models.FailureEngineUnavailable,
			fmt.Sprintf("engine binary %q not found", e.binary), err)
	}

	cmd := exec.CommandContext(ctx, path, "--version")
	if out, err := cmd.CombinedOutput(); err != nil {
		return models.NewFailure(models.FailureEngineUnavailable,
			fmt.Sprintf("engine failed to start: %s", firstLine(out)), err)
	}
	return nil
}

// Convert runs one conversion inside workDir. The input file must already be
// in workDir; the produced output path is returned. workDir is exclusive to
// the calling slot, so output names cannot collide across jobs.
//
// On context expiry or cancellation the whole process group is killed and the
// kill is awaited before returning, so the slot never frees while an engine
// process is still alive.
func (e *SofficeEngine) Convert(ctx context.Context, inputPath, targetFormat, workDir string) (string, error) {
	cmd := exec.Command(e.binary,
		"--headless",
		"--norestore",
		"--convert-to", targetFormat,
		"--outdir", workDir,
		inputPath,
	)
	// Isolate the engine's profile per workspace; concurrent soffice
	// instances sharing a profile lock each other out.
	cmd.Env = append(os.Environ(), "HOME="+workDir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return "", models.NewFailure(models.FailureEngineUnavailable,
			"engine failed to start", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		killProcessGroup(cmd.Process.Pid)
		<-done // reap before the slot is considered free
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", models.NewFailure(models.FailureEngineTimedOut,
				"engine exceeded conversion timeout and was killed", ctx.Err())
		}
		return "", models.NewFailure(models.FailureCancelled,
			"conversion cancelled, engine killed", ctx.Err())
	case waitErr = <-done:
	}

	outputPath := outputPathFor(inputPath, targetFormat, workDir)

	if waitErr != nil {
		return "", models.NewFailure(models.FailureEngineCrashed,
			fmt.Sprintf("engine exited abnormally: %s", firstLine(stderr.Bytes())), waitErr)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		// Clean exit but no output file: soffice reports some failures
		// on stdout with exit code 0.
		return "", models.NewFailure(models.FailureInvalidOutput,
			fmt.Sprintf("engine produced no output: %s", firstLine(stdout.Bytes())), err)
	}
	if !models.ValidOutput(targetFormat, data) {
		return "", models.NewFailure(models.FailureInvalidOutput,
			fmt.Sprintf("engine output failed %s signature check (%d bytes)",
				models.FormatExtension(targetFormat), len(data)), nil)
	}

	return outputPath, nil
}

// outputPathFor mirrors soffice naming: input base name with the target
// extension, placed in the out dir. Filter suffixes after ":" do not appear
// in the file name.
func outputPathFor(inputPath, targetFormat, workDir string) string {
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(workDir, base+"."+models.FormatExtension(targetFormat))
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// ProbeTimeout bounds the startup probe so a wedged binary cannot hang boot.
const ProbeTimeout = 30 * time.Second
