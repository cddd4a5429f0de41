package store

// consoleSchemaSQL is the subset of the RAGFlow schema the console reads and
// writes. Production databases already carry the full schema; this DDL only
// seeds local SQLite databases. Datetime columns are TEXT so the SQLite
// driver hands them back verbatim, the same way MySQL does without parseTime.
const consoleSchemaSQL = `
CREATE TABLE IF NOT EXISTS user (
    id VARCHAR(32) PRIMARY KEY,
    email VARCHAR(255) NOT NULL,
    nickname VARCHAR(100) NOT NULL DEFAULT '',
    password VARCHAR(255),
    avatar TEXT,
    language VARCHAR(32),
    color_schema VARCHAR(32),
    timezone VARCHAR(64),
    last_login_time TEXT,
    is_authenticated VARCHAR(1) NOT NULL DEFAULT '1',
    is_active VARCHAR(1) NOT NULL DEFAULT '1',
    is_anonymous VARCHAR(1) NOT NULL DEFAULT '0',
    login_channel VARCHAR(32),
    status VARCHAR(1) DEFAULT '1',
    is_superuser INTEGER DEFAULT 0,
    access_token VARCHAR(255),
    create_time BIGINT,
    create_date TEXT,
    update_time BIGINT,
    update_date TEXT
);
CREATE INDEX IF NOT EXISTS idx_user_email ON user(email);

CREATE TABLE IF NOT EXISTS tenant (
    id VARCHAR(32) PRIMARY KEY,
    name VARCHAR(100),
    public_key VARCHAR(255),
    llm_id VARCHAR(128) NOT NULL DEFAULT '',
    embd_id VARCHAR(128) NOT NULL DEFAULT '',
    asr_id VARCHAR(128) NOT NULL DEFAULT '',
    img2txt_id VARCHAR(128) NOT NULL DEFAULT '',
    rerank_id VARCHAR(128) NOT NULL DEFAULT '',
    tts_id VARCHAR(256),
    parser_ids VARCHAR(256) NOT NULL DEFAULT '',
    credit INTEGER DEFAULT 0,
    status VARCHAR(1) DEFAULT '1',
    create_time BIGINT,
    create_date TEXT,
    update_time BIGINT,
    update_date TEXT
);

CREATE TABLE IF NOT EXISTS user_tenant (
    id VARCHAR(32) PRIMARY KEY,
    user_id VARCHAR(32) NOT NULL,
    tenant_id VARCHAR(32) NOT NULL,
    role VARCHAR(32) NOT NULL,
    invited_by VARCHAR(32) NOT NULL DEFAULT '',
    status VARCHAR(1) DEFAULT '1',
    create_time BIGINT,
    create_date TEXT,
    update_time BIGINT,
    update_date TEXT
);

CREATE TABLE IF NOT EXISTS knowledgebase (
    id VARCHAR(32) PRIMARY KEY,
    tenant_id VARCHAR(32) NOT NULL,
    name VARCHAR(128) NOT NULL,
    description TEXT,
    avatar TEXT,
    language VARCHAR(32),
    embd_id VARCHAR(128) NOT NULL DEFAULT '',
    permission VARCHAR(16) NOT NULL DEFAULT 'me',
    created_by VARCHAR(32) NOT NULL DEFAULT '',
    doc_num INTEGER DEFAULT 0,
    token_num INTEGER DEFAULT 0,
    chunk_num INTEGER DEFAULT 0,
    parser_id VARCHAR(32) NOT NULL DEFAULT 'naive',
    status VARCHAR(1) DEFAULT '1',
    create_time BIGINT,
    create_date TEXT,
    update_time BIGINT,
    update_date TEXT
);
CREATE INDEX IF NOT EXISTS idx_kb_tenant ON knowledgebase(tenant_id);

CREATE TABLE IF NOT EXISTS document (
    id VARCHAR(32) PRIMARY KEY,
    kb_id VARCHAR(256) NOT NULL,
    thumbnail TEXT,
    parser_id VARCHAR(32) NOT NULL DEFAULT 'naive',
    source_type VARCHAR(128) NOT NULL DEFAULT 'local',
    type VARCHAR(32) NOT NULL DEFAULT '',
    created_by VARCHAR(32) NOT NULL DEFAULT '',
    name VARCHAR(255),
    location VARCHAR(255),
    size INTEGER DEFAULT 0,
    token_num INTEGER DEFAULT 0,
    chunk_num INTEGER DEFAULT 0,
    progress REAL DEFAULT 0,
    progress_msg TEXT,
    process_begin_at TEXT,
    process_duration REAL DEFAULT 0,
    suffix VARCHAR(32) NOT NULL DEFAULT '',
    run VARCHAR(1) DEFAULT '0',
    status VARCHAR(1) DEFAULT '1',
    create_time BIGINT,
    create_date TEXT,
    update_time BIGINT,
    update_date TEXT
);
CREATE INDEX IF NOT EXISTS idx_document_kb ON document(kb_id);

CREATE TABLE IF NOT EXISTS task (
    id VARCHAR(32) PRIMARY KEY,
    doc_id VARCHAR(32) NOT NULL,
    from_page INTEGER DEFAULT 0,
    to_page INTEGER DEFAULT 100000000,
    begin_at TEXT,
    progress REAL DEFAULT 0,
    progress_msg TEXT,
    create_time BIGINT,
    create_date TEXT,
    update_time BIGINT,
    update_date TEXT
);
CREATE INDEX IF NOT EXISTS idx_task_doc ON task(doc_id);

CREATE TABLE IF NOT EXISTS file (
    id VARCHAR(32) PRIMARY KEY,
    parent_id VARCHAR(32) NOT NULL DEFAULT '',
    tenant_id VARCHAR(32) NOT NULL DEFAULT '',
    created_by VARCHAR(32) NOT NULL DEFAULT '',
    name VARCHAR(255) NOT NULL DEFAULT '',
    location VARCHAR(255),
    size INTEGER DEFAULT 0,
    type VARCHAR(32) NOT NULL DEFAULT '',
    source_type VARCHAR(128) NOT NULL DEFAULT '',
    create_time BIGINT,
    create_date TEXT,
    update_time BIGINT,
    update_date TEXT
);

CREATE TABLE IF NOT EXISTS file2document (
    id VARCHAR(32) PRIMARY KEY,
    file_id VARCHAR(32),
    document_id VARCHAR(32),
    create_time BIGINT,
    create_date TEXT,
    update_time BIGINT,
    update_date TEXT
);
CREATE INDEX IF NOT EXISTS idx_f2d_file ON file2document(file_id);
CREATE INDEX IF NOT EXISTS idx_f2d_document ON file2document(document_id);

CREATE TABLE IF NOT EXISTS dialog (
    id VARCHAR(32) PRIMARY KEY,
    tenant_id VARCHAR(32) NOT NULL,
    name VARCHAR(255),
    description TEXT,
    icon TEXT,
    language VARCHAR(32),
    llm_id VARCHAR(128) NOT NULL DEFAULT '',
    status VARCHAR(1) DEFAULT '1',
    create_time BIGINT,
    create_date TEXT,
    update_time BIGINT,
    update_date TEXT
);
CREATE INDEX IF NOT EXISTS idx_dialog_tenant ON dialog(tenant_id);

CREATE TABLE IF NOT EXISTS conversation (
    id VARCHAR(32) PRIMARY KEY,
    dialog_id VARCHAR(32) NOT NULL,
    name VARCHAR(255),
    message TEXT,
    reference TEXT,
    user_id VARCHAR(255),
    create_time BIGINT,
    create_date TEXT,
    update_time BIGINT,
    update_date TEXT
);
CREATE INDEX IF NOT EXISTS idx_conversation_dialog ON conversation(dialog_id);

CREATE TABLE IF NOT EXISTS user_canvas (
    id VARCHAR(32) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    title VARCHAR(255),
    description TEXT,
    avatar TEXT,
    permission VARCHAR(16) NOT NULL DEFAULT 'me',
    canvas_category VARCHAR(32) NOT NULL DEFAULT 'agent_canvas',
    dsl TEXT,
    create_time BIGINT,
    create_date TEXT,
    update_time BIGINT,
    update_date TEXT
);
CREATE INDEX IF NOT EXISTS idx_canvas_user ON user_canvas(user_id);

CREATE TABLE IF NOT EXISTS user_canvas_version (
    id VARCHAR(32) PRIMARY KEY,
    user_canvas_id VARCHAR(255) NOT NULL,
    title VARCHAR(255),
    description TEXT,
    dsl TEXT,
    create_time BIGINT,
    create_date TEXT,
    update_time BIGINT,
    update_date TEXT
);
CREATE INDEX IF NOT EXISTS idx_canvas_version_canvas ON user_canvas_version(user_canvas_id);
`
