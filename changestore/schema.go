package changestore

// Schema is the DDL for the change log, the interaction log and the frame
// registry.
const Schema = `
-- One row per recorded DOM change. The unique key absorbs retried uploads.
CREATE TABLE IF NOT EXISTS dom_changes (
    tab_id                 INTEGER NOT NULL,
    frame_id               INTEGER NOT NULL,
    document_navigation_id INTEGER NOT NULL,
    event_index            INTEGER NOT NULL,
    action                 INTEGER NOT NULL,
    node_id                INTEGER NOT NULL DEFAULT 0,
    node_type              INTEGER NOT NULL DEFAULT 0,
    tag_name               TEXT NOT NULL DEFAULT '',
    previous_sibling_id    INTEGER NOT NULL DEFAULT 0,
    parent_node_id         INTEGER NOT NULL DEFAULT 0,
    text_content           TEXT NOT NULL DEFAULT '',
    attributes             TEXT,
    attribute_namespaces   TEXT,
    properties             TEXT,
    namespace_uri          TEXT NOT NULL DEFAULT '',
    command_id             INTEGER NOT NULL DEFAULT 0,
    timestamp              INTEGER NOT NULL,
    UNIQUE (tab_id, frame_id, document_navigation_id, timestamp, event_index)
);
CREATE INDEX IF NOT EXISTS idx_dom_changes_order ON dom_changes(timestamp, event_index);
CREATE INDEX IF NOT EXISTS idx_dom_changes_frame ON dom_changes(frame_id, command_id);
CREATE INDEX IF NOT EXISTS idx_dom_changes_nav ON dom_changes(document_navigation_id);

-- Mouse, focus, scroll and load events, stored as their wire tuples.
CREATE TABLE IF NOT EXISTS page_events (
    tab_id     INTEGER NOT NULL,
    frame_id   INTEGER NOT NULL,
    command_id INTEGER NOT NULL DEFAULT 0,
    kind       TEXT NOT NULL,
    timestamp  INTEGER NOT NULL,
    data       TEXT NOT NULL,
    UNIQUE (tab_id, frame_id, kind, timestamp, data)
);
CREATE INDEX IF NOT EXISTS idx_page_events_tab ON page_events(tab_id, kind, timestamp);

-- Frames seen per tab; dom_node_path locates an iframe's element in its
-- parent frame.
CREATE TABLE IF NOT EXISTS frames (
    tab_id        INTEGER NOT NULL,
    frame_id      INTEGER NOT NULL,
    is_main       INTEGER NOT NULL DEFAULT 0,
    dom_node_path TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (tab_id, frame_id)
);
`
