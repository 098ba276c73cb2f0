package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS connections (
    id              TEXT PRIMARY KEY,
    room_id         TEXT NOT NULL,
    player_id       TEXT NOT NULL,
    ip              TEXT,
    user_agent      TEXT,
    connected_at    TIMESTAMPTZ NOT NULL,
    disconnected_at TIMESTAMPTZ,
    last_seen_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_connections_room_player ON connections (room_id, player_id);
CREATE INDEX IF NOT EXISTS idx_connections_room ON connections (room_id);

CREATE TABLE IF NOT EXISTS actions (
    id         BIGSERIAL PRIMARY KEY,
    room_id    TEXT NOT NULL,
    player_id  TEXT,
    action     TEXT NOT NULL,
    note       TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_actions_room ON actions (room_id);
`

// pgRecorder writes audit rows through a single worker goroutine so
// the game path only ever pays a buffered channel send.
type pgRecorder struct {
	db     *sql.DB
	writes chan func(*sql.DB)
	done   chan struct{}
	logger *log.Logger
}

func NewPostgres(dsn string, logger *log.Logger) (Recorder, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	r := &pgRecorder{
		db:     db,
		writes: make(chan func(*sql.DB), 256),
		done:   make(chan struct{}),
		logger: logger,
	}
	go r.drain()
	return r, nil
}

func (r *pgRecorder) Enabled() bool { return true }

func (r *pgRecorder) drain() {
	defer close(r.done)
	for w := range r.writes {
		w(r.db)
	}
}

// enqueue drops the write when the buffer is full; audit is lossy by
// contract.
func (r *pgRecorder) enqueue(w func(*sql.DB)) {
	select {
	case r.writes <- w:
	default:
		r.logger.Warn("audit buffer full, dropping write")
	}
}

func (r *pgRecorder) Connect(rec Connection) {
	r.enqueue(func(db *sql.DB) {
		_, err := db.Exec(`
            INSERT INTO connections (id, room_id, player_id, ip, user_agent, connected_at, last_seen_at)
            VALUES ($1, $2, $3, $4, $5, $6, $6)
        `, rec.ID, rec.RoomID, rec.PlayerID, rec.IP, rec.UserAgent, rec.ConnectedAt)
		if err != nil {
			r.logger.Error("audit connect failed", "err", err)
		}
	})
}

func (r *pgRecorder) Disconnect(connectionID string, at time.Time) {
	r.enqueue(func(db *sql.DB) {
		_, err := db.Exec(`
            UPDATE connections SET disconnected_at = $2, last_seen_at = $2 WHERE id = $1
        `, connectionID, at)
		if err != nil {
			r.logger.Error("audit disconnect failed", "err", err)
		}
	})
}

func (r *pgRecorder) Seen(connectionID string, at time.Time) {
	r.enqueue(func(db *sql.DB) {
		_, err := db.Exec(`UPDATE connections SET last_seen_at = $2 WHERE id = $1`, connectionID, at)
		if err != nil {
			r.logger.Error("audit seen failed", "err", err)
		}
	})
}

func (r *pgRecorder) Action(roomID, playerID, action, note string) {
	r.enqueue(func(db *sql.DB) {
		_, err := db.Exec(`
            INSERT INTO actions (room_id, player_id, action, note) VALUES ($1, $2, $3, $4)
        `, roomID, playerID, action, note)
		if err != nil {
			r.logger.Error("audit action failed", "err", err)
		}
	})
}

func (r *pgRecorder) LatestConnections(ctx context.Context, roomID string) ([]Connection, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT DISTINCT ON (player_id)
               id, room_id, player_id, ip, user_agent, connected_at, disconnected_at, last_seen_at
          FROM connections
         WHERE room_id = $1
         ORDER BY player_id, connected_at DESC
    `, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		var c Connection
		var disc sql.NullTime
		if err := rows.Scan(&c.ID, &c.RoomID, &c.PlayerID, &c.IP, &c.UserAgent, &c.ConnectedAt, &disc, &c.LastSeenAt); err != nil {
			return nil, err
		}
		if disc.Valid {
			t := disc.Time
			c.DisconnectedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *pgRecorder) Close() {
	close(r.writes)
	<-r.done
	_ = r.db.Close()
}
