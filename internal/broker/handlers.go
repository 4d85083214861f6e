package broker

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"proof-capture-app/internal/models"
	"proof-capture-app/internal/proofapi"
	"proof-capture-app/internal/qr"
	"proof-capture-app/internal/storage"
	ws "proof-capture-app/internal/websocket"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.createSession(r.Context())
	if err != nil {
		s.logger.Error("create proof session", "err", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	s.metrics.sessionsCreated.Inc()
	s.logger.Info("proof session created", "session", session.ID, "expires_at", session.ExpiresAt)

	writeJSON(w, http.StatusOK, models.SessionResponse{
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
		QRURL:     s.endpoints.PairingURL(session.ID),
	})
}

// activeSession writes a 404 and returns nil when the id names no usable session.
func (s *Server) activeSession(w http.ResponseWriter, r *http.Request, id string) *models.ProofSession {
	session, err := s.db.GetActiveSession(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && session.Expired(s.now())) {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil
	}
	if err != nil {
		s.logger.Error("load proof session", "session", id, "err", err)
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return nil
	}
	return session
}

// handleCloseSession stops a session from accepting uploads or subscribers.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if s.activeSession(w, r, id) == nil {
		return
	}
	if err := s.db.DeactivateSession(r.Context(), id); err != nil {
		s.logger.Error("close proof session", "session", id, "err", err)
		http.Error(w, "Failed to close session", http.StatusInternalServerError)
		return
	}
	s.logger.Info("proof session closed", "session", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if s.activeSession(w, r, id) == nil {
		return
	}
	png, err := qr.PNG(s.endpoints.PairingURL(id), qr.DefaultSize)
	if err != nil {
		http.Error(w, "Failed to render code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// handleListImages returns stored captures as notifications, so a view
// that subscribed late can backfill.
func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if s.activeSession(w, r, id) == nil {
		return
	}
	images, err := s.db.ListProofImages(r.Context(), id)
	if err != nil {
		s.logger.Error("list proof images", "session", id, "err", err)
		http.Error(w, "Failed to list images", http.StatusInternalServerError)
		return
	}
	out := make([]models.CaptureNotification, 0, len(images))
	for _, img := range images {
		n := models.CaptureNotification{Image: img.FileName, Timestamp: img.Timestamp.UTC().Format(time.RFC3339Nano)}
		if img.Latitude != nil && img.Longitude != nil {
			n.Lat = models.FormatCoordinate(*img.Latitude)
			n.Lng = models.FormatCoordinate(*img.Longitude)
		}
		out = append(out, n)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session := s.activeSession(w, r, sessionID)
	if session == nil {
		s.metrics.uploadsTotal.WithLabelValues("rejected").Inc()
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.metrics.uploadsTotal.WithLabelValues("rejected").Inc()
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "Image too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	latStr := r.FormValue(proofapi.FieldLat)
	lngStr := r.FormValue(proofapi.FieldLng)
	tsStr := r.FormValue(proofapi.FieldTimestamp)
	if latStr == "" || lngStr == "" {
		s.logger.Warn("upload without location", "session", sessionID)
	}

	file, header, err := r.FormFile(proofapi.FieldFile)
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues("rejected").Inc()
		http.Error(w, "Image required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues("rejected").Inc()
		http.Error(w, "Failed to read image", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		s.metrics.uploadsTotal.WithLabelValues("rejected").Inc()
		http.Error(w, "Empty image", http.StatusBadRequest)
		return
	}

	// The notification echoes the capture device's clock when it sent one.
	captureTime, tsOut := s.now(), ""
	if t, err := time.Parse(time.RFC3339, tsStr); err == nil {
		captureTime, tsOut = t, tsStr
	} else {
		tsOut = captureTime.UTC().Format(time.RFC3339Nano)
	}

	result, err := s.processUpload(r.Context(), upload{
		session:   session,
		fileName:  header.Filename,
		lat:       latStr,
		lng:       lngStr,
		timestamp: captureTime,
		data:      data,
	})
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues("error").Inc()
		s.logger.Error("process proof upload", "session", sessionID, "err", err)
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	resp, image := result.response, result.image

	if resp.IsDuplicate {
		s.metrics.uploadsTotal.WithLabelValues("duplicate").Inc()
	} else {
		s.metrics.uploadsTotal.WithLabelValues("stored").Inc()
		s.metrics.uploadBytes.Observe(float64(len(data)))
	}

	notification := models.CaptureNotification{Image: image, Lat: latStr, Lng: lngStr, Timestamp: tsOut}
	if err := s.hub.Emit(sessionID, notification); err != nil {
		s.logger.Warn("emit proof notification", "session", sessionID, "err", err)
	} else {
		s.metrics.notifications.Inc()
	}

	s.logger.Info("proof uploaded", "session", sessionID, "image", image, "score", resp.Score, "duplicate", resp.IsDuplicate)
	writeJSON(w, http.StatusOK, resp)
}

// safeFileName keeps only the base name so a client cannot pick the directory.
func safeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "proof.jpg"
	}
	return name
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if s.activeSession(w, r, id) == nil {
		return
	}
	ws.ServeWS(s.hub, w, r, id)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	root := filepath.Clean(s.uploadDir)
	filePath := filepath.Join(root, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, root+string(filepath.Separator)) {
		http.Error(w, "Invalid file path", http.StatusBadRequest)
		return
	}

	data, err := s.thumbs.Get(filePath)
	if errors.Is(err, os.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Warn("thumbnail failed", "path", rel, "err", err)
		http.Error(w, "Failed to decode image", http.StatusUnprocessableEntity)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}
