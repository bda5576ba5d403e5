package journal

// Schema creates the journal tables. Times are unix nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	algorithm  TEXT NOT NULL,
	ccd        TEXT NOT NULL,
	guider     TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER,
	end_state  TEXT,
	message    TEXT
);

CREATE TABLE IF NOT EXISTS samples (
	session_id     TEXT NOT NULL REFERENCES sessions(id),
	frame          INTEGER NOT NULL,
	drift_x        REAL NOT NULL,
	drift_y        REAL NOT NULL,
	drift_ra       REAL NOT NULL,
	drift_dec      REAL NOT NULL,
	correction_ra  REAL NOT NULL,
	correction_dec REAL NOT NULL,
	rmse_ra        REAL NOT NULL,
	rmse_dec       REAL NOT NULL,
	recorded_at    INTEGER NOT NULL,
	PRIMARY KEY (session_id, frame)
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
`
