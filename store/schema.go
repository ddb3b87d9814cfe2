package store

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	working_dir TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS chats_working_dir ON chats (working_dir, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id TEXT NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_calls TEXT,
	tool_call_id TEXT,
	tool_name TEXT,
	is_error INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS messages_chat ON messages (chat_id, id);
`
