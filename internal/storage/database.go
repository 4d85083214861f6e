package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"proof-capture-app/internal/models"
)

// ErrNotFound is returned when no active session matches.
var ErrNotFound = errors.New("not found")

// DB wraps the database connection with performance optimizations
type DB struct {
	*sql.DB
}

// InitDB opens the database and creates the proof tables
func InitDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	// WAL lets the upload handler write while thumbnails and listings read
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS proof_sessions (
		id TEXT PRIMARY KEY,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS proof_images (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		image_hash TEXT NOT NULL,
		latitude REAL,
		longitude REAL,
		timestamp DATETIME NOT NULL,
		metadata_score INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES proof_sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_proof_images_session ON proof_images(session_id);
	CREATE INDEX IF NOT EXISTS idx_proof_images_hash ON proof_images(session_id, image_hash);
	`

	_, err := db.Exec(schema)
	return err
}

// SaveSession stores a newly issued session
func (db *DB) SaveSession(ctx context.Context, s *models.ProofSession) error {
	query := `INSERT INTO proof_sessions (id, is_active, created_at, expires_at) VALUES (?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query, s.ID, s.IsActive, s.CreatedAt.UTC(), s.ExpiresAt.UTC())
	return err
}

// GetActiveSession returns an active session by ID. Expiry is left to the caller.
func (db *DB) GetActiveSession(ctx context.Context, id string) (*models.ProofSession, error) {
	s := &models.ProofSession{}
	query := `SELECT id, is_active, created_at, expires_at FROM proof_sessions WHERE id = ? AND is_active = 1`
	err := db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.IsActive, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeactivateSession stops a session from accepting uploads
func (db *DB) DeactivateSession(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `UPDATE proof_sessions SET is_active = 0 WHERE id = ?`, id)
	return err
}

// SaveProofImage records a stored upload
func (db *DB) SaveProofImage(ctx context.Context, img *models.ProofImage) error {
	query := `INSERT INTO proof_images
		(id, session_id, file_name, image_hash, latitude, longitude, timestamp, metadata_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		img.ID, img.SessionID, img.FileName, img.ImageHash,
		img.Latitude, img.Longitude, img.Timestamp.UTC(), img.Score, img.CreatedAt.UTC())
	return err
}

// ImageByHash returns the session's image with this content hash, or ErrNotFound
func (db *DB) ImageByHash(ctx context.Context, sessionID, hash string) (*models.ProofImage, error) {
	img := &models.ProofImage{}
	var lat, lng sql.NullFloat64
	err := db.QueryRowContext(ctx, `SELECT id, session_id, file_name, image_hash, latitude, longitude,
		timestamp, metadata_score, created_at
		FROM proof_images WHERE session_id = ? AND image_hash = ? ORDER BY created_at ASC, rowid ASC LIMIT 1`,
		sessionID, hash).Scan(&img.ID, &img.SessionID, &img.FileName, &img.ImageHash, &lat, &lng,
		&img.Timestamp, &img.Score, &img.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat.Valid {
		img.Latitude = &lat.Float64
	}
	if lng.Valid {
		img.Longitude = &lng.Float64
	}
	return img, nil
}

// ListProofImages returns a session's images in upload order
func (db *DB) ListProofImages(ctx context.Context, sessionID string) ([]*models.ProofImage, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, session_id, file_name, image_hash, latitude, longitude,
		timestamp, metadata_score, created_at
		FROM proof_images WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []*models.ProofImage
	for rows.Next() {
		img := &models.ProofImage{}
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&img.ID, &img.SessionID, &img.FileName, &img.ImageHash, &lat, &lng,
			&img.Timestamp, &img.Score, &img.CreatedAt); err != nil {
			return nil, err
		}
		if lat.Valid {
			img.Latitude = &lat.Float64
		}
		if lng.Valid {
			img.Longitude = &lng.Float64
		}
		images = append(images, img)
	}
	return images, rows.Err()
}
