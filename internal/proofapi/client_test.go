package proofapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proof-capture-app/internal/models"
	"proof-capture-app/internal/pairing"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(ClientConfig{
		Endpoints: pairing.Endpoints{Host: "localhost", BackendPort: "0", FrontendPort: "0", APIBaseURL: srv.URL},
	})
}

func TestCreateSession_NoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/proof/session", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.SessionResponse{SessionID: "abc123"})
	}))
	defer srv.Close()

	id, err := newTestClient(srv).CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
}

func TestCreateSession_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broker busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).CreateSession(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "broker busy", se.Body)
	assert.Equal(t, "create session failed: broker busy", err.Error())
}

func TestCreateSession_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(srv)
	srv.Close()

	_, err := c.CreateSession(context.Background())
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}

func TestUpload_MultipartFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/proof/upload/s-1", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}

		f, hdr, err := r.FormFile(FieldFile)
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "proof-1700000000000.jpg", hdr.Filename)
		assert.Equal(t, []byte("jpegbytes"), data)
		assert.Equal(t, "2023-11-14T22:13:20.000Z", r.FormValue(FieldTimestamp))
		assert.Equal(t, "", r.FormValue(FieldLat))
		assert.Equal(t, "", r.FormValue(FieldLng))
		_, present := r.MultipartForm.Value[FieldLat]
		assert.True(t, present, "lat must be sent even when empty")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.UploadResponse{Status: "uploaded", Score: 60})
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).Upload(context.Background(), "s-1", UploadRequest{
		FileName:  "proof-1700000000000.jpg",
		Image:     []byte("jpegbytes"),
		Timestamp: "2023-11-14T22:13:20.000Z",
	})
	require.NoError(t, err)
	assert.Equal(t, 60, resp.Score)
}

func TestUpload_ErrorBodyVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Upload(context.Background(), "", UploadRequest{FileName: "a.jpg", Image: []byte{1}})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "session not found", se.Body)
}

func TestUpload_PlainTextSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).Upload(context.Background(), "s", UploadRequest{FileName: "a.jpg", Image: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, "uploaded", resp.Status)
}
