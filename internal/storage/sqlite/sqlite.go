package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shmel1k/yblb/internal/balancer"
	"github.com/shmel1k/yblb/internal/cluster"
	"github.com/shmel1k/yblb/internal/storage"

	// sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
)

const (
	querySaveSnapshot = `INSERT INTO snapshots(cluster_name, created_at, data) 
							VALUES(?, ?, ?)
							ON CONFLICT(cluster_name) DO UPDATE SET
  								created_at = excluded.created_at,
  								data = excluded.data`
	querySaveIncident = `INSERT INTO incidents(uuid, cluster_name, created_at, data) 
							VALUES(?, ?, ?, ?)`
	initDatabaseQueries = `CREATE TABLE IF NOT EXISTS snapshots (
		"id" integer NOT NULL PRIMARY KEY AUTOINCREMENT,		
		"cluster_name" TEXT UNIQUE,
		"created_at" INTEGER,
		"data" BLOB
	  );
	CREATE TABLE IF NOT EXISTS incidents (
		"id" integer NOT NULL PRIMARY KEY AUTOINCREMENT,		
		"uuid" TEXT UNIQUE,
		"cluster_name" TEXT,
		"created_at" INTEGER,
		"data" BLOB
	  );
	CREATE INDEX IF NOT EXISTS incidents_cluster_name ON incidents (cluster_name)`
	queryGetLastSnapshot = `SELECT data
		FROM snapshots
		WHERE cluster_name = ?
		ORDER BY id DESC limit 1`
	queryGetIncidents = `SELECT data
		FROM incidents
		WHERE cluster_name = ?
		ORDER BY created_at, id`
	queryGetClusters = `SELECT cluster_name, data
		FROM snapshots
		ORDER BY cluster_name`
)

type sqlite struct {
	db     *sql.DB
	config Config
}

type Config struct {
	FileName       string
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
}

func New(cfg Config) (storage.Storage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	db, err := sql.Open("sqlite3", cfg.FileName)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)

	err = createTables(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &sqlite{
		db:     db,
		config: cfg,
	}, nil
}

func (s *sqlite) GetClusters(ctx context.Context) ([]storage.ClusterSnapshotResp, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetClusters)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := make([]storage.ClusterSnapshotResp, 0)
	for rows.Next() {
		var snapResp storage.ClusterSnapshotResp
		var data []byte
		err = rows.Scan(&snapResp.Name, &data)
		if err != nil {
			return nil, err
		}

		err = json.Unmarshal(data, &snapResp.Snapshot)
		if err != nil {
			return nil, err
		}

		resp = append(resp, snapResp)
	}

	return resp, rows.Err()
}

func (s *sqlite) SaveSnapshot(ctx context.Context, clusterName string, snapshot cluster.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, querySaveSnapshot, clusterName, snapshot.Created, data)

	return err
}

func (s *sqlite) SaveIncident(ctx context.Context, incident balancer.Incident) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	data, err := json.Marshal(incident)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, querySaveIncident, incident.ID, incident.ClusterName, incident.Created, data)

	return err
}

func (s *sqlite) GetClusterSnapshot(ctx context.Context, clusterName string) (cluster.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	var data []byte
	row := s.db.QueryRowContext(ctx, queryGetLastSnapshot, clusterName)

	var ns cluster.Snapshot
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return ns, storage.ErrEmptyResult
	}
	if err != nil {
		return ns, err
	}
	err = json.Unmarshal(data, &ns)

	return ns, err
}

func (s *sqlite) GetIncidents(ctx context.Context, clusterName string) ([]balancer.Incident, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	resp := make([]balancer.Incident, 0)
	rows, err := s.db.QueryContext(ctx, queryGetIncidents, clusterName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		err = rows.Scan(&data)
		if err != nil {
			return nil, err
		}

		var incident balancer.Incident
		err = json.Unmarshal(data, &incident)
		if err != nil {
			return nil, err
		}

		resp = append(resp, incident)
	}

	return resp, rows.Err()
}

func (s *sqlite) Close() error {
	return s.db.Close()
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, initDatabaseQueries)

	return err
}
