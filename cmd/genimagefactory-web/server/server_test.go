package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ascensum/genimagefactory/internal/catalog"
	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/eventbus"
	"github.com/ascensum/genimagefactory/internal/model"
	"github.com/ascensum/genimagefactory/internal/secrets"
	"github.com/ascensum/genimagefactory/internal/wiring"
)

func newTestApp(t *testing.T, name string) *wiring.App {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dbPath := filepath.Join(t.TempDir(), "catalog.sqlite")
	cat, err := catalog.Open(ctx, dbPath, logger, catalog.NewMetrics(name))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	bus := eventbus.New(logger, eventbus.NewMetrics(name))
	bus.Start(ctx)

	return &wiring.App{
		Cfg:    &config.Config{Worker: config.WorkerConfig{MaxPoolSize: 1}},
		Logger: logger,
		Cat:    cat,
		Vault:  secrets.New(cat, logger),
		Bus:    bus,
	}
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t, "healthz_test")

	handler, err := New(app)
	require.NoError(t, err)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestExecutionsAndImagesRoundtrip(t *testing.T) {
	app := newTestApp(t, "exec_test")
	ctx := context.Background()

	handler, err := New(app)
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	execID, err := app.Cat.SaveExecution(ctx, model.Execution{
		Status:    model.ExecutionCompleted,
		StartedAt: time.Now(),
	})
	require.NoError(t, err)

	imgID, err := app.Cat.SaveImage(ctx, model.GeneratedImage{
		ExecutionID: &execID,
		MappingID:   "img-1",
		Prompt:      "a cat",
		QCStatus:    model.QCPending,
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/v1/executions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/api/v1/images?executionId=" + strconv.FormatInt(execID, 10))
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	approveResp, err := http.Post(ts.URL+"/api/v1/images/"+strconv.FormatInt(imgID, 10)+"/approve", "application/json", nil)
	require.NoError(t, err)
	defer approveResp.Body.Close()
	require.Equal(t, http.StatusNoContent, approveResp.StatusCode)

	updated, err := app.Cat.GetImage(ctx, imgID)
	require.NoError(t, err)
	require.Equal(t, model.QCApproved, updated.QCStatus)
}

func TestGetExecutionNotFound(t *testing.T) {
	app := newTestApp(t, "notfound_test")

	handler, err := New(app)
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/v1/executions/999")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListImagesRequiresExecutionID(t *testing.T) {
	app := newTestApp(t, "missing_param_test")

	handler, err := New(app)
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/v1/images")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
