package storage

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	mime_type TEXT,
	extension TEXT,
	size INTEGER NOT NULL DEFAULT 0,
	storage_path TEXT,
	status TEXT NOT NULL,
	processing_error TEXT,
	canonical_text TEXT,
	blocks TEXT,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id, created_at);

CREATE TABLE IF NOT EXISTS annotations (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	text TEXT NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset INTEGER NOT NULL,
	source TEXT NOT NULL CHECK (source IN ('manual', 'ai_suggested')),
	confidence REAL,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_annotations_scope ON annotations(document_id, user_id, start_offset);

CREATE TABLE IF NOT EXISTS quizzes (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL,
	question_type TEXT NOT NULL,
	difficulty TEXT NOT NULL,
	question_count INTEGER NOT NULL DEFAULT 0,
	questions TEXT,
	total_points INTEGER NOT NULL DEFAULT 0,
	generation_error TEXT,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_quizzes_user ON quizzes(user_id, created_at);

CREATE TABLE IF NOT EXISTS questions (
	id TEXT PRIMARY KEY,
	quiz_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	stem TEXT NOT NULL,
	options TEXT,
	correct_answer TEXT NOT NULL,
	explanation TEXT,
	difficulty TEXT,
	points INTEGER NOT NULL,
	question_order INTEGER NOT NULL,
	FOREIGN KEY (quiz_id) REFERENCES quizzes(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_questions_quiz ON questions(quiz_id, question_order);

CREATE TABLE IF NOT EXISTS quiz_attempts (
	id TEXT PRIMARY KEY,
	quiz_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL,
	answers TEXT,
	score INTEGER NOT NULL DEFAULT 0,
	total_points INTEGER NOT NULL DEFAULT 0,
	percentage REAL NOT NULL DEFAULT 0,
	grading_method TEXT,
	started_at TIMESTAMP NOT NULL,
	submitted_at TIMESTAMP,
	graded_at TIMESTAMP,
	time_spent INTEGER,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	FOREIGN KEY (quiz_id) REFERENCES quizzes(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_attempts_user ON quiz_attempts(user_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_in_progress ON quiz_attempts(quiz_id, user_id) WHERE status = 'in_progress';

CREATE TABLE IF NOT EXISTS providers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT,
	type TEXT NOT NULL,
	config TEXT NOT NULL,
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	is_default INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	mime_type TEXT,
	extension TEXT,
	size BIGINT NOT NULL DEFAULT 0,
	storage_path TEXT,
	status TEXT NOT NULL,
	processing_error TEXT,
	canonical_text TEXT,
	blocks TEXT,
	metadata TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id, created_at);

CREATE TABLE IF NOT EXISTS annotations (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	text TEXT NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset INTEGER NOT NULL,
	source TEXT NOT NULL CHECK (source IN ('manual', 'ai_suggested')),
	confidence DOUBLE PRECISION,
	metadata TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_annotations_scope ON annotations(document_id, user_id, start_offset);

CREATE TABLE IF NOT EXISTS quizzes (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL,
	question_type TEXT NOT NULL,
	difficulty TEXT NOT NULL,
	question_count INTEGER NOT NULL DEFAULT 0,
	questions TEXT,
	total_points INTEGER NOT NULL DEFAULT 0,
	generation_error TEXT,
	metadata TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quizzes_user ON quizzes(user_id, created_at);

CREATE TABLE IF NOT EXISTS questions (
	id TEXT PRIMARY KEY,
	quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	stem TEXT NOT NULL,
	options TEXT,
	correct_answer TEXT NOT NULL,
	explanation TEXT,
	difficulty TEXT,
	points INTEGER NOT NULL,
	question_order INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_questions_quiz ON questions(quiz_id, question_order);

CREATE TABLE IF NOT EXISTS quiz_attempts (
	id TEXT PRIMARY KEY,
	quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL,
	answers TEXT,
	score INTEGER NOT NULL DEFAULT 0,
	total_points INTEGER NOT NULL DEFAULT 0,
	percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
	grading_method TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	submitted_at TIMESTAMPTZ,
	graded_at TIMESTAMPTZ,
	time_spent INTEGER,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_user ON quiz_attempts(user_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_in_progress ON quiz_attempts(quiz_id, user_id) WHERE status = 'in_progress';

CREATE TABLE IF NOT EXISTS providers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT,
	type TEXT NOT NULL,
	config TEXT NOT NULL,
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	is_default INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)
`
