package store

// Schema is the complete pricewatch relational schema. Countries carry
// the currency; sites carry selectors and strategy; targets are the
// tracked item/URL pairs; prices is the append-only sample series.
const Schema = `
CREATE TABLE IF NOT EXISTS countries (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    code       TEXT NOT NULL UNIQUE,
    currency   TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sites (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    hostname       TEXT NOT NULL UNIQUE,
    price_selector TEXT NOT NULL,
    name_selector  TEXT NOT NULL,
    strategy       TEXT NOT NULL DEFAULT 'fetch',
    country_id     TEXT REFERENCES countries(id),
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sites_country ON sites(country_id);

CREATE TABLE IF NOT EXISTS targets (
    id         TEXT PRIMARY KEY,
    site_id    TEXT NOT NULL REFERENCES sites(id),
    url        TEXT NOT NULL UNIQUE,
    name       TEXT,
    deleted_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_targets_site ON targets(site_id);

CREATE TABLE IF NOT EXISTS prices (
    target_id   TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
    value       REAL NOT NULL,
    currency    TEXT NOT NULL,
    captured_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prices_target_time ON prices(target_id, captured_at);
`
