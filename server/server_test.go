package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docgen/models"
	"docgen/store"
	"docgen/worker"
)

// instantEngine succeeds immediately; blockingEngine holds jobs until
// released, both honouring cancellation as the real wrapper does.
type testEngine struct {
	block chan struct{}
}

func (e *testEngine) Convert(ctx context.Context, inputPath, targetFormat, workDir string) (string, error) {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", models.NewFailure(models.FailureEngineTimedOut, "timed out", ctx.Err())
			}
			return "", models.NewFailure(models.FailureCancelled, "cancelled", ctx.Err())
		}
	}
	outPath := filepath.Join(workDir, "input."+models.FormatExtension(targetFormat))
	if err := os.WriteFile(outPath, []byte("%PDF-1.4 converted"), 0o600); err != nil {
		return "", err
	}
	return outPath, nil
}

type apiFixture struct {
	ts      *httptest.Server
	pool    *worker.Pool
	results *store.ResultStore
}

func newAPIFixture(t *testing.T, engine worker.Engine, workers, depth int) *apiFixture {
	t.Helper()

	results := store.NewResultStore(time.Hour, nil)
	pool := worker.NewPool(worker.Options{
		Engine:     engine,
		Store:      results,
		WorkRoot:   t.TempDir(),
		Workers:    workers,
		QueueDepth: depth,
		Timeout:    time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	srv := New(pool, results, nil, 1<<20)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = pool.Stop(stopCtx)
		cancel()
	})

	return &apiFixture{ts: ts, pool: pool, results: results}
}

func multipartBody(t *testing.T, filename, format string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.WriteField("format", format))
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func submit(t *testing.T, f *apiFixture, filename, format string, content []byte) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, filename, format, content)
	resp, err := http.Post(f.ts.URL+"/convert", contentType, body)
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSubmitPollDownload(t *testing.T) {
	f := newAPIFixture(t, &testEngine{}, 2, 8)

	resp := submit(t, f, "report.docx", "pdf", []byte("document bytes"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	accepted := decodeJSON[submitResponse](t, resp)
	require.NotEmpty(t, accepted.JobID)
	assert.Equal(t, models.StateQueued, accepted.State)

	// Poll until the artifact comes back.
	var artifact []byte
	var artifactType string
	require.Eventually(t, func() bool {
		r, err := http.Get(f.ts.URL + "/convert/" + accepted.JobID)
		require.NoError(t, err)
		defer r.Body.Close()
		if r.Header.Get("Content-Type") != "application/pdf" {
			return false
		}
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		artifact = b
		artifactType = r.Header.Get("Content-Type")
		return true
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "application/pdf", artifactType)
	assert.Equal(t, []byte("%PDF-1.4 converted"), artifact)

	// A second retrieval is byte-identical.
	r, err := http.Get(f.ts.URL + "/convert/" + accepted.JobID)
	require.NoError(t, err)
	again, err := io.ReadAll(r.Body)
	r.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, artifact, again)
}

func TestSubmitValidation(t *testing.T) {
	f := newAPIFixture(t, &testEngine{}, 1, 4)

	resp := submit(t, f, "report.docx", "exe", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = submit(t, f, "", "pdf", nil) // no file part
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = submit(t, f, "report.docx", "pdf", []byte{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSubmitTooLarge(t *testing.T) {
	f := newAPIFixture(t, &testEngine{}, 1, 4)

	resp := submit(t, f, "big.docx", "pdf", bytes.Repeat([]byte{'a'}, 2<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	resp.Body.Close()
}

func TestOverloadedMapsTo429(t *testing.T) {
	engine := &testEngine{block: make(chan struct{})}
	f := newAPIFixture(t, engine, 1, 1)
	defer close(engine.block)

	first := decodeJSON[submitResponse](t, submit(t, f, "a.docx", "pdf", []byte("x")))
	require.Eventually(t, func() bool {
		j, ok := f.pool.Lookup(first.JobID)
		return ok && j.State == models.StateRunning
	}, 5*time.Second, 5*time.Millisecond)

	resp := submit(t, f, "b.docx", "pdf", []byte("x"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp = submit(t, f, "c.docx", "pdf", []byte("x"))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	e := decodeJSON[errorResponse](t, resp)
	assert.Equal(t, models.FailureOverloaded, e.Kind)
}

func TestStatusWhileQueuedAndUnknown(t *testing.T) {
	engine := &testEngine{block: make(chan struct{})}
	f := newAPIFixture(t, engine, 1, 4)
	defer close(engine.block)

	running := decodeJSON[submitResponse](t, submit(t, f, "a.docx", "pdf", []byte("x")))
	queued := decodeJSON[submitResponse](t, submit(t, f, "b.docx", "pdf", []byte("x")))

	require.Eventually(t, func() bool {
		j, ok := f.pool.Lookup(running.JobID)
		return ok && j.State == models.StateRunning
	}, 5*time.Second, 5*time.Millisecond)

	r, err := http.Get(f.ts.URL + "/convert/" + queued.JobID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, r.StatusCode)
	st := decodeJSON[statusResponse](t, r)
	assert.Equal(t, models.StateQueued, st.State)
	assert.Nil(t, st.Error)

	r, err = http.Get(f.ts.URL + "/convert/no-such-id")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
	r.Body.Close()
}

func TestCancelFlow(t *testing.T) {
	engine := &testEngine{block: make(chan struct{})}
	f := newAPIFixture(t, engine, 1, 4)

	running := decodeJSON[submitResponse](t, submit(t, f, "a.docx", "pdf", []byte("x")))
	queued := decodeJSON[submitResponse](t, submit(t, f, "b.docx", "pdf", []byte("x")))

	require.Eventually(t, func() bool {
		j, ok := f.pool.Lookup(running.JobID)
		return ok && j.State == models.StateRunning
	}, 5*time.Second, 5*time.Millisecond)

	req, err := http.NewRequest(http.MethodDelete, f.ts.URL+"/convert/"+queued.JobID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	// The cancelled job reports its terminal state with the error kind.
	require.Eventually(t, func() bool {
		r, err := http.Get(f.ts.URL + "/convert/" + queued.JobID)
		require.NoError(t, err)
		st := decodeJSON[statusResponse](t, r)
		return st.State == models.StateCancelled &&
			st.Error != nil && st.Error.Kind == models.FailureCancelled
	}, 5*time.Second, 10*time.Millisecond)

	close(engine.block)

	// Cancelling an already-terminal job conflicts.
	require.Eventually(t, func() bool {
		_, ok := f.results.Get(running.JobID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	req, err = http.NewRequest(http.MethodDelete, f.ts.URL+"/convert/"+running.JobID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Unknown id.
	req, err = http.NewRequest(http.MethodDelete, f.ts.URL+"/convert/nope", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t, &testEngine{}, 1, 2)

	r, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, r.StatusCode)
	h := decodeJSON[healthResponse](t, r)
	assert.Equal(t, "healthy", h.Status)
}
