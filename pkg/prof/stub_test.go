//go:build !profile

package prof

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStubs(t *testing.T) {
	assert.False(t, Enabled())
	assert.NoError(t, StartCPU(filepath.Join(t.TempDir(), "cpu.prof")))
	assert.False(t, CPUActive())
	assert.NoError(t, StopCPU())
	assert.NoError(t, Snapshot(t.TempDir()))
	SetContention(1)

	mux := http.NewServeMux()
	Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSnapshots(t *testing.T) {
	assert.NotContains(t, Snapshots(), ProfileCPU)
	assert.Equal(t, "heap", ProfileHeap.String())
}
