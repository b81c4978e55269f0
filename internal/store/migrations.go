package store

// Migration is one forward-only schema change applied in Version order.
type Migration struct {
	Version int
	SQL     string
}

var migrations = []Migration{
	{
		Version: 1,
		SQL: `
			CREATE TABLE cache_index (
				user_id TEXT NOT NULL,
				mailbox TEXT NOT NULL,
				data TEXT NOT NULL,
				expires DATETIME,
				PRIMARY KEY (user_id, mailbox)
			);

			CREATE TABLE cache_thread (
				user_id TEXT NOT NULL,
				mailbox TEXT NOT NULL,
				data TEXT NOT NULL,
				expires DATETIME,
				PRIMARY KEY (user_id, mailbox)
			);

			CREATE TABLE cache_messages (
				user_id TEXT NOT NULL,
				mailbox TEXT NOT NULL,
				uid INTEGER NOT NULL,
				header BLOB NOT NULL,
				flags INTEGER NOT NULL DEFAULT 0,
				expires DATETIME,
				PRIMARY KEY (user_id, mailbox, uid)
			);

			CREATE INDEX idx_cache_index_expires ON cache_index (expires);
			CREATE INDEX idx_cache_thread_expires ON cache_thread (expires);
			CREATE INDEX idx_cache_messages_expires ON cache_messages (expires);
			CREATE INDEX idx_cache_messages_user_mailbox ON cache_messages (user_id, mailbox);
		`,
	},
	{
		// cache_index's validity bit gets its own column so SetIndexInvalid
		// can flip it with a single targeted UPDATE instead of a
		// select-decode-mutate-upsert round trip.
		Version: 2,
		SQL: `
			ALTER TABLE cache_index ADD COLUMN valid INTEGER NOT NULL DEFAULT 1;
		`,
	},
}
