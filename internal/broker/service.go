package broker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"proof-capture-app/internal/models"
	"proof-capture-app/internal/storage"
)

const (
	scoreTimeValid     = 40
	scoreLocationValid = 40
	scoreUnique        = 20
)

// createSession issues and persists a new session.
func (s *Server) createSession(ctx context.Context) (*models.ProofSession, error) {
	now := s.now()
	session := &models.ProofSession{
		ID:        uuid.New().String(),
		IsActive:  true,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.db.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save proof session: %w", err)
	}
	return session, nil
}

type upload struct {
	session   *models.ProofSession
	fileName  string // as sent by the client
	lat, lng  string
	timestamp time.Time
	data      []byte
}

// stored is the outcome of processUpload. Image is relative to the upload root.
type stored struct {
	response *models.UploadResponse
	image    string
}

// processUpload scores, writes and records an upload. A repeat of an image
// already stored for the session scores zero, is not written again, and
// resolves to the first copy.
func (s *Server) processUpload(ctx context.Context, up upload) (*stored, error) {
	sum := blake3.Sum256(up.data)
	hash := hex.EncodeToString(sum[:])

	// Serializes the duplicate check with the insert.
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	prev, err := s.db.ImageByHash(ctx, up.session.ID, hash)
	switch {
	case err == nil:
		return &stored{
			response: &models.UploadResponse{Status: "uploaded", IsDuplicate: true},
			image:    prev.FileName,
		}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("check duplicate: %w", err)
	}

	timeValid := !up.timestamp.Before(up.session.CreatedAt) && !up.timestamp.After(up.session.ExpiresAt)
	lat, latErr := strconv.ParseFloat(up.lat, 64)
	lng, lngErr := strconv.ParseFloat(up.lng, 64)
	locationValid := latErr == nil && lngErr == nil

	score := scoreUnique
	if timeValid {
		score += scoreTimeValid
	}
	if locationValid {
		score += scoreLocationValid
	}

	// The record id keeps names unique when devices send the same file name.
	id := uuid.New().String()
	name := up.session.ID + "-" + id + "-" + safeFileName(up.fileName)
	if err := writeNew(filepath.Join(s.uploadDir, proofDir, name), up.data); err != nil {
		return nil, fmt.Errorf("save proof image: %w", err)
	}
	image := path.Join(proofDir, name)

	img := &models.ProofImage{
		ID:        id,
		SessionID: up.session.ID,
		FileName:  image,
		ImageHash: hash,
		Timestamp: up.timestamp,
		Score:     score,
		CreatedAt: s.now(),
	}
	if locationValid {
		img.Latitude = &lat
		img.Longitude = &lng
	}
	if err := s.db.SaveProofImage(ctx, img); err != nil {
		os.Remove(filepath.Join(s.uploadDir, proofDir, name))
		return nil, fmt.Errorf("store proof image: %w", err)
	}

	return &stored{
		response: &models.UploadResponse{
			Status:       "uploaded",
			Score:        score,
			ValidationOK: timeValid && locationValid,
		},
		image: image,
	}, nil
}

// writeNew refuses to replace an existing file.
func writeNew(name string, data []byte) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return err
	}
	return f.Close()
}
