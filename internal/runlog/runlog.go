package runlog

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Run is one invocation of the trainer.
type Run struct {
	ID              string    `json:"id"`
	DataDir         string    `json:"data_dir"`
	ModelPath       string    `json:"model_path"`
	EpochsRequested int       `json:"epochs_requested"`
	EpochsRun       int       `json:"epochs_run"`
	TrainSamples    int       `json:"train_samples"`
	ValSamples      int       `json:"val_samples"`
	Loss            float64   `json:"loss"`
	Accuracy        float64   `json:"accuracy"`
	ValLoss         float64   `json:"val_loss"`
	ValAccuracy     float64   `json:"val_accuracy"`
	Trained         bool      `json:"trained"`
	StopReason      string    `json:"stop_reason"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Store persists runs in SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
    CREATE TABLE IF NOT EXISTS training_runs (
        id TEXT PRIMARY KEY,
        data_dir TEXT,
        model_path TEXT,
        epochs_requested INTEGER,
        epochs_run INTEGER,
        train_samples INTEGER,
        val_samples INTEGER,
        loss REAL,
        accuracy REAL,
        val_loss REAL,
        val_accuracy REAL,
        trained INTEGER,
        stop_reason TEXT,
        started_at DATETIME,
        finished_at DATETIME
    );
    CREATE INDEX IF NOT EXISTS training_runs_started ON training_runs (started_at);
`

// Open creates the database file and schema if needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open run log")
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create run log schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record inserts or replaces r and returns its ID, generating one when r has
// none.
func (s *Store) Record(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT OR REPLACE INTO training_runs (
            id, data_dir, model_path, epochs_requested, epochs_run,
            train_samples, val_samples, loss, accuracy, val_loss, val_accuracy,
            trained, stop_reason, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, r.ID, r.DataDir, r.ModelPath, r.EpochsRequested, r.EpochsRun,
		r.TrainSamples, r.ValSamples, r.Loss, r.Accuracy, r.ValLoss, r.ValAccuracy,
		r.Trained, r.StopReason, r.StartedAt.UTC(), r.FinishedAt.UTC())
	if err != nil {
		return "", errors.Wrap(err, "record run")
	}
	return r.ID, nil
}

// List returns the most recent runs first. limit <= 0 returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, data_dir, model_path, epochs_requested, epochs_run,
               train_samples, val_samples, loss, accuracy, val_loss, val_accuracy,
               trained, stop_reason, started_at, finished_at
        FROM training_runs
        ORDER BY started_at DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.DataDir, &r.ModelPath, &r.EpochsRequested, &r.EpochsRun,
			&r.TrainSamples, &r.ValSamples, &r.Loss, &r.Accuracy, &r.ValLoss, &r.ValAccuracy,
			&r.Trained, &r.StopReason, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, r)
	}
	return runs, errors.Wrap(rows.Err(), "list runs")
}
