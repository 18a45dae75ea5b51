package seen

const queryEnsureSchema = `
CREATE TABLE IF NOT EXISTS seen_events (
    id         TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const queryLoadSeen = `
SELECT id FROM seen_events`

const queryInsertSeen = `
INSERT INTO seen_events (id) VALUES ($1)
ON CONFLICT (id) DO NOTHING`
