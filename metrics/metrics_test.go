package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	res, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics(t *testing.T) {
	m := New()
	m.SearchPage(250)
	m.SearchPage(3)
	m.ActivationTransition("activating")
	m.ActivationTransition("active")
	m.TaskStarted()
	m.TaskStarted()
	m.TaskFinished("succeeded")
	m.TaskAbandoned("failed")
	m.BytesWritten(1024)

	out := scrape(t, m)
	assert.Contains(t, out, "planet_fetch_search_pages_total 2")
	assert.Contains(t, out, "planet_fetch_search_items_total 253")
	assert.Contains(t, out, `planet_fetch_activation_transitions_total{to="active"} 1`)
	assert.Contains(t, out, `planet_fetch_downloads_total{status="succeeded"} 1`)
	assert.Contains(t, out, `planet_fetch_downloads_total{status="failed"} 1`)
	assert.Contains(t, out, "planet_fetch_download_bytes_total 1024")
	assert.Contains(t, out, "planet_fetch_tasks_in_flight 1")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SearchPage(1)
		m.ActivationTransition("active")
		m.TaskStarted()
		m.TaskFinished("failed")
		m.TaskAbandoned("failed")
		m.BytesWritten(1)
	})
}
