package store

const schema = `
CREATE TABLE IF NOT EXISTS businesses (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    name            TEXT NOT NULL,
    entity_type     TEXT NOT NULL DEFAULT 'business',
    category        TEXT NOT NULL DEFAULT '',
    area            TEXT NOT NULL DEFAULT '',
    latitude        REAL NOT NULL DEFAULT 0,
    longitude       REAL NOT NULL DEFAULT 0,
    verified        BOOLEAN NOT NULL DEFAULT 0,
    featured        BOOLEAN NOT NULL DEFAULT 0,
    avg_rating      REAL NOT NULL DEFAULT 0,
    review_count    INTEGER NOT NULL DEFAULT 0,
    active_offers   INTEGER NOT NULL DEFAULT 0,
    discovery_score REAL NOT NULL DEFAULT 0,
    created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_businesses_category ON businesses(category);
CREATE INDEX IF NOT EXISTS idx_businesses_area ON businesses(area);
CREATE INDEX IF NOT EXISTS idx_businesses_score ON businesses(discovery_score);

CREATE TABLE IF NOT EXISTS interactions (
    id           TEXT PRIMARY KEY,
    user_id      INTEGER NOT NULL,
    business_id  INTEGER NOT NULL REFERENCES businesses(id),
    type         TEXT NOT NULL,
    weight       REAL NOT NULL DEFAULT 1,
    latitude     REAL,
    longitude    REAL,
    occurred_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interactions_business ON interactions(business_id);
CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id);
CREATE INDEX IF NOT EXISTS idx_interactions_occurred ON interactions(occurred_at);
CREATE INDEX IF NOT EXISTS idx_interactions_type ON interactions(type);

CREATE TABLE IF NOT EXISTS trending_data (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    item_type     TEXT NOT NULL,
    item_id       INTEGER NOT NULL,
    location_area TEXT NOT NULL DEFAULT '',
    time_period   TEXT NOT NULL,
    date_period   TEXT NOT NULL,
    trend_score   REAL NOT NULL DEFAULT 0,
    hybrid_score  REAL NOT NULL DEFAULT 0,
    view_count    INTEGER NOT NULL DEFAULT 0,
    search_count  INTEGER NOT NULL DEFAULT 0,
    computed_at   DATETIME NOT NULL,
    UNIQUE(item_type, item_id, time_period, date_period, location_area)
);

CREATE INDEX IF NOT EXISTS idx_trending_period ON trending_data(time_period, date_period);
CREATE INDEX IF NOT EXISTS idx_trending_score ON trending_data(trend_score);

CREATE TABLE IF NOT EXISTS business_similarities (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    business_a_id   INTEGER NOT NULL,
    business_b_id   INTEGER NOT NULL,
    similarity_type TEXT NOT NULL,
    score           REAL NOT NULL DEFAULT 0,
    factors         TEXT NOT NULL DEFAULT '{}',
    updated_at      DATETIME NOT NULL,
    UNIQUE(business_a_id, business_b_id, similarity_type),
    CHECK(business_a_id < business_b_id)
);

CREATE INDEX IF NOT EXISTS idx_similarities_a ON business_similarities(business_a_id);
CREATE INDEX IF NOT EXISTS idx_similarities_b ON business_similarities(business_b_id);
CREATE INDEX IF NOT EXISTS idx_similarities_score ON business_similarities(score);

CREATE TABLE IF NOT EXISTS user_preferences (
    user_id          INTEGER PRIMARY KEY,
    category_weights TEXT NOT NULL DEFAULT '{}',
    price_level      INTEGER NOT NULL DEFAULT 0,
    radius_km        REAL NOT NULL DEFAULT 0,
    updated_at       DATETIME NOT NULL
);
`
