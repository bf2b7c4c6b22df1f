package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Members table: club athletes who have authorized the application
CREATE TABLE IF NOT EXISTS members (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    athlete_id INTEGER NOT NULL UNIQUE,  -- Strava athlete ID

    -- OAuth tokens, encrypted at rest (base64 nonce||ciphertext).
    -- All three are NULL together when the member has deauthorized.
    access_token TEXT,
    refresh_token TEXT,
    token_expires_at INTEGER,  -- Unix timestamp

    joined_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Queue items: one row per (activity, create event) awaiting processing.
-- Rows are never deleted; status transitions are the audit trail.
CREATE TABLE IF NOT EXISTS queue_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    activity_id INTEGER NOT NULL UNIQUE,  -- dedup key for at-least-once delivery
    athlete_id INTEGER NOT NULL,
    event_type TEXT NOT NULL,

    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 3,
    error_message TEXT,

    created_at INTEGER NOT NULL,
    processing_at INTEGER,
    processed_at INTEGER
);

-- Achievements: append-only. The current best for a (member, milestone,
-- season) is the minimum time_seconds among its rows.
CREATE TABLE IF NOT EXISTS achievements (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    member_id INTEGER NOT NULL,
    milestone TEXT NOT NULL,
    season INTEGER NOT NULL,
    activity_id INTEGER NOT NULL,
    achieved_at INTEGER NOT NULL,
    time_seconds INTEGER NOT NULL,
    distance_meters REAL NOT NULL,
    previous_time_seconds INTEGER,  -- set only on improvement rows

    FOREIGN KEY (member_id) REFERENCES members(id) ON DELETE CASCADE
);

-- Processed activities: last-synced-run projection, purely observational
CREATE TABLE IF NOT EXISTS processed_activities (
    activity_id INTEGER PRIMARY KEY,
    athlete_id INTEGER NOT NULL,
    name TEXT,
    distance_meters REAL,
    moving_time INTEGER,
    start_date INTEGER,
    synced_at INTEGER NOT NULL
);

-- Indexes for queue_items
CREATE INDEX IF NOT EXISTS idx_queue_items_status ON queue_items(status);
CREATE INDEX IF NOT EXISTS idx_queue_items_status_created ON queue_items(status, created_at);

-- Indexes for achievements
CREATE INDEX IF NOT EXISTS idx_achievements_member_season ON achievements(member_id, season);
CREATE INDEX IF NOT EXISTS idx_achievements_milestone ON achievements(milestone);

-- Index for processed_activities
CREATE INDEX IF NOT EXISTS idx_processed_activities_athlete ON processed_activities(athlete_id, start_date DESC);
`
