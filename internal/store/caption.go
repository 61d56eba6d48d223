package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Caption is one entry of a session transcript.
type Caption struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Seq        int       `json:"seq"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// CaptionRepository stores session transcripts.
type CaptionRepository struct {
	db *sql.DB
}

// Captions returns the caption repository for this store.
func (s *Store) Captions() *CaptionRepository {
	return &CaptionRepository{db: s.db}
}

// Append adds c to the end of its session transcript, assigning ID and Seq.
func (r *CaptionRepository) Append(c *Caption) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	err := r.db.QueryRow(
		`INSERT INTO captions (id, session_id, seq, label, confidence, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM captions WHERE session_id = ?), ?, ?, ?)
		 RETURNING seq`,
		c.ID, c.SessionID, c.SessionID, c.Label, c.Confidence, c.CreatedAt,
	).Scan(&c.Seq)
	return err
}

// ListBySession returns a session transcript in order.
func (r *CaptionRepository) ListBySession(sessionID string) ([]Caption, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, seq, label, confidence, created_at
		 FROM captions WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captions []Caption
	for rows.Next() {
		var c Caption
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Seq, &c.Label, &c.Confidence, &c.CreatedAt); err != nil {
			return nil, err
		}
		captions = append(captions, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return captions, nil
}

// CountBySession returns the number of captions recorded for a session.
func (r *CaptionRepository) CountBySession(sessionID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM captions WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}
