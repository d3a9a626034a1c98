package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"vidlense/internal/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidTheme = errors.New("theme must be light or dark")
)

// Client state keys.
const (
	keyTheme           = "theme"
	keyLearningHistory = "learningHistory"
)

const DefaultTheme = "light"

type DB struct {
	*sql.DB
}

func InitDB(dataSourceName string) (*DB, error) {
	// Ensure the directory exists
	if dataSourceName != ":memory:" {
		dir := filepath.Dir(dataSourceName)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// History and theme writes come from many request goroutines.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err = createSchema(db); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Println("Database initialized successfully.")
	return &DB{db}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
        CREATE TABLE IF NOT EXISTS client_state (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL,                        -- JSON document
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );

        CREATE TABLE IF NOT EXISTS videos (
            id TEXT PRIMARY KEY,                        -- UUID v4
            display_name TEXT NOT NULL,
            mime_type TEXT NOT NULL,
            file_name TEXT,                             -- Service-side resource name once accepted
            uri TEXT,
            state TEXT NOT NULL DEFAULT 'uploading' CHECK(state IN ('uploading', 'ready', 'failed', 'cancelled')),
            error_message TEXT,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_videos_created_at ON videos(created_at);
        `
	_, err := db.Exec(schema)
	return err
}

// --- Client State Methods ---

// GetClientState returns the raw JSON stored under key, or ErrNotFound.
func (db *DB) GetClientState(key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM client_state WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read client state %s: %w", key, err)
	}
	return value, nil
}

func (db *DB) SetClientState(key, value string) error {
	_, err := db.Exec(`
        INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write client state %s: %w", key, err)
	}
	return nil
}

// LoadLearningHistory reads the persisted history. A missing entry is an empty history.
func (db *DB) LoadLearningHistory() (map[string]models.LearningHistoryRecord, error) {
	history := make(map[string]models.LearningHistoryRecord)
	raw, err := db.GetClientState(keyLearningHistory)
	if errors.Is(err, ErrNotFound) {
		return history, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		// Unreadable history should not keep the app from starting
		log.Printf("Database LoadLearningHistory: discarding malformed history: %v", err)
		return make(map[string]models.LearningHistoryRecord), nil
	}
	return history, nil
}

func (db *DB) SaveLearningHistory(history map[string]models.LearningHistoryRecord) error {
	if history == nil {
		history = map[string]models.LearningHistoryRecord{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode learning history: %w", err)
	}
	return db.SetClientState(keyLearningHistory, string(raw))
}

// GetTheme returns the stored theme, DefaultTheme when none was saved.
func (db *DB) GetTheme() (string, error) {
	raw, err := db.GetClientState(keyTheme)
	if errors.Is(err, ErrNotFound) {
		return DefaultTheme, nil
	}
	if err != nil {
		return "", err
	}
	var theme string
	if err := json.Unmarshal([]byte(raw), &theme); err != nil || !validTheme(theme) {
		return DefaultTheme, nil
	}
	return theme, nil
}

func (db *DB) SetTheme(theme string) error {
	if !validTheme(theme) {
		return fmt.Errorf("%w: %q", ErrInvalidTheme, theme)
	}
	raw, _ := json.Marshal(theme)
	return db.SetClientState(keyTheme, string(raw))
}

func validTheme(theme string) bool {
	return theme == "light" || theme == "dark"
}

// --- Video Methods ---

// CreateVideoRecord inserts a new upload log row. ID and timestamps are filled in when empty.
func (db *DB) CreateVideoRecord(v *models.VideoRecord) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	// Stored as text; a single zone keeps ORDER BY chronological
	v.CreatedAt = v.CreatedAt.UTC()
	v.UpdatedAt = now
	if v.State == "" {
		v.State = models.VideoUploading
	}

	_, err := db.Exec(`
        INSERT INTO videos (id, display_name, mime_type, file_name, uri, state, error_message, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.DisplayName, v.MIMEType, v.FileName, v.URI, v.State, v.ErrorMessage, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert video record %s: %w", v.ID, err)
	}
	return nil
}

// UpdateVideoStatus moves a video to a new state. file, when not nil, records
// the service-side handle; errMsg replaces any previous error.
func (db *DB) UpdateVideoStatus(videoID string, state models.VideoState, file *models.UploadedFile, errMsg *string) error {
	var fileName, uri *string
	if file != nil {
		fileName, uri = &file.Name, &file.URI
	}
	res, err := db.Exec(`
        UPDATE videos SET state = ?, file_name = COALESCE(?, file_name), uri = COALESCE(?, uri),
            error_message = ?, updated_at = ?
        WHERE id = ?`,
		state, fileName, uri, errMsg, time.Now().UTC(), videoID,
	)
	if err != nil {
		return fmt.Errorf("failed to update status for video %s: %w", videoID, err)
	}
	rowsAffected, _ := res.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}
	return nil
}

const videoColumns = `id, display_name, mime_type, file_name, uri, state, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*models.VideoRecord, error) {
	v := &models.VideoRecord{}
	var fileName, uri, errMsg sql.NullString
	if err := row.Scan(&v.ID, &v.DisplayName, &v.MIMEType, &fileName, &uri, &v.State, &errMsg, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	if fileName.Valid {
		v.FileName = &fileName.String
	}
	if uri.Valid {
		v.URI = &uri.String
	}
	if errMsg.Valid {
		v.ErrorMessage = &errMsg.String
	}
	return v, nil
}

func (db *DB) GetVideo(videoID string) (*models.VideoRecord, error) {
	v, err := scanVideo(db.QueryRow("SELECT "+videoColumns+" FROM videos WHERE id = ?", videoID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("video %s: %w", videoID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query video %s: %w", videoID, err)
	}
	return v, nil
}

// ListVideos returns the upload log, newest first.
func (db *DB) ListVideos(limit, offset int) ([]models.VideoRecord, error) {
	// Ensure limit is reasonable
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.Query("SELECT "+videoColumns+" FROM videos ORDER BY created_at DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query videos: %w", err)
	}
	defer rows.Close()

	videos := make([]models.VideoRecord, 0)
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			log.Printf("Error scanning video row: %v", err)
			continue // Skip problematic row
		}
		videos = append(videos, *v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating video rows: %w", err)
	}
	return videos, nil
}

// DeleteVideo removes a row from the upload log.
func (db *DB) DeleteVideo(videoID string) error {
	res, err := db.Exec("DELETE FROM videos WHERE id = ?", videoID)
	if err != nil {
		return fmt.Errorf("failed to delete video %s: %w", videoID, err)
	}
	rowsAffected, _ := res.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}
	return nil
}
