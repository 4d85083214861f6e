package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proof-capture-app/internal/initiator"
	"proof-capture-app/internal/models"
	"proof-capture-app/internal/pairing"
)

func TestSaveCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/uploads/proof/s1-a.jpg" {
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("jpeg bytes"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	e := pairing.DefaultEndpoints()
	e.APIBaseURL = srv.URL
	g := initiator.NewGallery(e, srv.Client())
	ok := models.CaptureNotification{Image: "proof/s1-a.jpg"}
	missing := models.CaptureNotification{Image: "proof/s1-gone.jpg"}
	g.Append(ok)
	g.Append(missing)

	dir := t.TempDir()
	dst, err := saveCapture(context.Background(), g, 0, ok, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "s1-a.jpg"), dst)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	_, err = saveCapture(context.Background(), g, 1, missing, dir)
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "s1-gone.jpg"))
}
