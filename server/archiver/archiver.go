package archiver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/kv"

	_ "modernc.org/sqlite"
)

// Entity is one finished download.
type Entity struct {
	Id         string    `json:"id"`
	Video      string    `json:"video"`
	CID        int64     `json:"cid"`
	Title      string    `json:"title"`
	Path       string    `json:"path"`
	Status     string    `json:"status"`
	Filename   string    `json:"filename"`
	Message    string    `json:"message"`
	Quality    int       `json:"quality"`
	FinishedAt time.Time `json:"finishedAt"`
}

const schema = `
CREATE TABLE IF NOT EXISTS archive (
	id          TEXT PRIMARY KEY,
	video       TEXT NOT NULL,
	cid         INTEGER NOT NULL,
	title       TEXT NOT NULL,
	path        TEXT NOT NULL,
	status      TEXT NOT NULL,
	filename    TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	quality     INTEGER NOT NULL,
	details     TEXT NOT NULL DEFAULT '{}',
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS archive_finished_at ON archive (finished_at);
`

// Open opens (creating when needed) the archive database in dir.
func Open(dir string) (*sql.DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "archive.db"))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		slog.Warn("failed to tune archive database", slog.Any("err", err))
	}

	return db, nil
}

type Archiver struct {
	db *sql.DB
}

func New(ctx context.Context, db *sql.DB) (*Archiver, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating archive schema: %w", err)
	}
	return &Archiver{db: db}, nil
}

// Register archives every download finishing on bus.
func (a *Archiver) Register(bus evbus.Bus) error {
	return bus.SubscribeAsync(kv.TopicFinished, func(d internal.Download) {
		if err := a.Archive(context.Background(), d); err != nil {
			slog.Error("failed to archive download", slog.String("id", d.Id), slog.Any("err", err))
		}
	}, true)
}

func (a *Archiver) Archive(ctx context.Context, d internal.Download) error {
	slog.Info("archiving finished download",
		slog.String("id", d.Id),
		slog.String("title", d.Branch.Title),
		slog.String("status", string(d.Status)),
	)

	details, err := json.Marshal(d.Details)
	if err != nil {
		return err
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO archive
			(id, video, cid, title, path, status, filename, message, quality, details, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Id,
		d.Video.String(),
		d.Branch.CID,
		d.Branch.Title,
		d.Branch.Path,
		string(d.Status),
		stringDetail(d.Details, "filename"),
		stringDetail(d.Details, "message"),
		d.Quality,
		string(details),
		d.UpdatedAt.UnixMilli(),
	)
	return err
}

// List returns the latest archived downloads, newest first.
func (a *Archiver) List(ctx context.Context, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT id, video, cid, title, path, status, filename, message, quality, finished_at
		FROM archive
		ORDER BY finished_at DESC, id
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities := []Entity{}
	for rows.Next() {
		var (
			e        Entity
			finished int64
		)
		if err := rows.Scan(
			&e.Id, &e.Video, &e.CID, &e.Title, &e.Path, &e.Status,
			&e.Filename, &e.Message, &e.Quality, &finished,
		); err != nil {
			return nil, err
		}
		e.FinishedAt = time.UnixMilli(finished)
		entities = append(entities, e)
	}

	return entities, rows.Err()
}

func stringDetail(details map[string]any, key string) string {
	s, _ := details[key].(string)
	return s
}
