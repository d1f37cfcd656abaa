package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/app"
	"github.com/JakeFAU/docket-scraper/internal/config"
	"github.com/JakeFAU/docket-scraper/internal/pipeline"
	"github.com/JakeFAU/docket-scraper/internal/records"
)

const rosterPage1 = `<html><body><table>
<tr><th>LE #</th><th>Docket #</th><th>Name</th><th>Charges</th></tr>
<tr><td>LE123</td><td>D987</td><td>DOE, JOHN</td><td>THEFT BY TAKING</td></tr>
</table><a href="/active?page=2">Next</a></body></html>`

const rosterPage2 = `<html><body><table>
<tr><th>LE #</th><th>Docket #</th><th>Name</th><th>Charges</th></tr>
<tr><td>LE456</td><td></td><td>ROE, JANE</td><td>DUI</td></tr>
</table></body></html>`

func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(rosterPage2))
			return
		}
		_, _ = w.Write([]byte(rosterPage1))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Scraper.PageDelay = 0
	cfg.Scraper.DetailDelay = 0
	cfg.Scraper.SourceDelay = 0
	cfg.Archive.Backend = "memory"
	cfg.Archive.MalformedOnly = false
	return cfg
}

func TestBuildAndRunAgainstUpstream(t *testing.T) {
	t.Parallel()

	srv := upstream(t)
	cfg := baseConfig(t)
	cfg.Sources = []records.Source{{Name: "active", Kind: records.SourceActive, URL: srv.URL + "/active"}}
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, zap.NewNop(), app.Options{})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	summary, err := a.Orchestrator().Run(ctx, pipeline.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, records.RunSuccess, summary.Status)
	require.Equal(t, 2, summary.Inmates)
	require.Len(t, summary.Sources, 1)
	require.Equal(t, 2, summary.Sources[0].Pages)

	jane, err := a.Store().GetInmate(ctx, "LE456")
	require.NoError(t, err)
	require.Equal(t, "Roe, Jane", jane.Name)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, a.Migrate(ctx))
}

func TestBuildFailsOnUnusableArchiveDir(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	cfg := baseConfig(t)
	cfg.Archive.Backend = "local"
	cfg.Archive.BaseDir = filepath.Join(file, "pages")

	_, err := app.Build(context.Background(), cfg, zap.NewNop(), app.Options{})
	require.ErrorContains(t, err, "local blob store init failed")
}
