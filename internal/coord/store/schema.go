package store

// initSchema creates the database tables if they don't exist.
func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			persona_id TEXT NOT NULL,
			persona_lc TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			working_directory TEXT NOT NULL,
			status TEXT NOT NULL,
			process_id INTEGER,
			model TEXT NOT NULL DEFAULT '',
			worktree_name TEXT NOT NULL DEFAULT '',
			registered_at TIMESTAMP NOT NULL,
			last_heartbeat TIMESTAMP NOT NULL,
			started_at TIMESTAMP NOT NULL,
			stopped_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_persona_lc ON agents(persona_lc)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			agent_id TEXT,
			status TEXT NOT NULL,
			persona_id TEXT,
			persona_lc TEXT,
			description TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 2,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			result TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_claim
			ON tasks(status, persona_lc, priority DESC, created_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_agent_id ON tasks(agent_id)`,

		`CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT NOT NULL,
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'json',
			metadata TEXT NOT NULL DEFAULT '',
			is_compressed INTEGER NOT NULL DEFAULT 0,
			size INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			last_updated_at TIMESTAMP NOT NULL,
			accessed_at TIMESTAMP,
			access_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (namespace, key)
		)`,

		`CREATE TABLE IF NOT EXISTS event_logs (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			entity_id TEXT NOT NULL DEFAULT '',
			entity_type TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			tags TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_logs_timestamp ON event_logs(timestamp)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Writer().Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
