package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopCollectorsAcceptRecords(t *testing.T) {
	assert.NotPanics(t, func() {
		noopCounterVec{}.With("a", "b").Inc()
		noopGaugeVec{}.With("x").Set(3)
		NoopStat{}.Observe(0.1)
	})
}

func TestInitialize_ServesMetrics(t *testing.T) {
	reg := Initialize("test-node")
	require.NotNil(t, reg)

	MessagesPublished.With("osc").Inc()
	Deliveries.With("websocket", ResultFailed).Add(2)
	BlobRedirects.Inc()
	Subscriptions.Set(4)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["rhizome_messages_published_total"])
	assert.True(t, names["rhizome_deliveries_total"])
	assert.True(t, names["rhizome_blob_redirects_total"])
	assert.True(t, names["rhizome_subscriptions"])

	handler := Handler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `rhizome_deliveries_total{kind="websocket",node_id="test-node",result="failed"} 2`))
}
