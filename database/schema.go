package database

// MigrationsTable tracks applied schema versions
const MigrationsTable = `
CREATE TABLE IF NOT EXISTS _migrations (
    id SERIAL PRIMARY KEY,
    version TEXT UNIQUE NOT NULL,
    applied_at TIMESTAMPTZ DEFAULT NOW(),
    checksum TEXT
)`

// DatabaseSchema contains the complete PostgreSQL schema for the bot.
// Every statement is idempotent so re-running it after a version bump is safe.
const DatabaseSchema = `
-- Chats the bot has seen: private users, groups, supergroups and channels
CREATE TABLE IF NOT EXISTS chats (
    id BIGINT PRIMARY KEY,
    type TEXT NOT NULL,
    title TEXT,
    username TEXT,
    first_name TEXT,
    last_name TEXT,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_chats_type ON chats(type);

-- File metadata, one row per message carrying an attachment
CREATE TABLE IF NOT EXISTS files (
    id BIGSERIAL PRIMARY KEY,
    file_type TEXT NOT NULL,
    file_id TEXT NOT NULL,
    file_unique_id TEXT,
    file_name TEXT,
    mime_type TEXT,
    file_size BIGINT DEFAULT 0,
    width INT,
    height INT,
    duration INT,
    chat_id BIGINT NOT NULL,
    from_id BIGINT,
    message_id BIGINT,
    caption TEXT,
    sent_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_files_chat ON files(chat_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_files_from ON files(from_id);
CREATE INDEX IF NOT EXISTS idx_files_unique ON files(file_unique_id);

-- Banned words are stored lowercased
CREATE TABLE IF NOT EXISTS banned_words (
    word TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

-- Bot settings key-value store
CREATE TABLE IF NOT EXISTS bot_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

-- Broadcast history
CREATE TABLE IF NOT EXISTS broadcasts (
    id UUID PRIMARY KEY,
    text TEXT NOT NULL,
    total INT DEFAULT 0,
    success INT DEFAULT 0,
    fail INT DEFAULT 0,
    started_by BIGINT,
    started_at TIMESTAMPTZ DEFAULT NOW(),
    finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_broadcasts_started ON broadcasts(started_at DESC);

CREATE OR REPLACE FUNCTION update_updated_at_column()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ language 'plpgsql';

DO $$
BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'update_chats_updated_at') THEN
        CREATE TRIGGER update_chats_updated_at BEFORE UPDATE ON chats
            FOR EACH ROW EXECUTE FUNCTION update_updated_at_column();
    END IF;

    IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'update_bot_settings_updated_at') THEN
        CREATE TRIGGER update_bot_settings_updated_at BEFORE UPDATE ON bot_settings
            FOR EACH ROW EXECUTE FUNCTION update_updated_at_column();
    END IF;
END $$;

CREATE INDEX IF NOT EXISTS idx_migrations_version ON _migrations(version, applied_at DESC);
`
