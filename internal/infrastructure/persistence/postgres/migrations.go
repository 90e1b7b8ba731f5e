// Package postgres implements PostgreSQL persistence layer for the content hub.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE CURRICULUM
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create curriculum reference tables
-- Version: 001
-- Purpose: Read-only hierarchy University -> Course -> Unit -> Topic.
-- Content is attached to topics; the hierarchy itself is seeded, never
-- edited through the bot.

CREATE TABLE IF NOT EXISTS universities (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL UNIQUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS courses (
    id BIGSERIAL PRIMARY KEY,
    university_id BIGINT NOT NULL REFERENCES universities(id) ON DELETE CASCADE,
    name VARCHAR(255) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE(university_id, name)
);

CREATE INDEX IF NOT EXISTS idx_courses_university ON courses(university_id);

CREATE TABLE IF NOT EXISTS units (
    id BIGSERIAL PRIMARY KEY,
    course_id BIGINT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    name VARCHAR(255) NOT NULL,
    year INTEGER NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE(course_id, name),
    CONSTRAINT valid_year CHECK (year >= 1 AND year <= 6)
);

CREATE INDEX IF NOT EXISTS idx_units_course ON units(course_id);
CREATE INDEX IF NOT EXISTS idx_units_course_year ON units(course_id, year);

CREATE TABLE IF NOT EXISTS topics (
    id BIGSERIAL PRIMARY KEY,
    unit_id BIGINT NOT NULL REFERENCES units(id) ON DELETE CASCADE,
    name VARCHAR(255) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE(unit_id, name)
);

CREATE INDEX IF NOT EXISTS idx_topics_unit ON topics(unit_id);
`

const migration001Down = `
DROP TABLE IF EXISTS topics;
DROP TABLE IF EXISTS units;
DROP TABLE IF EXISTS courses;
DROP TABLE IF EXISTS universities;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE ADMINS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create admin and access code tables
-- Version: 002
-- Purpose: Role management. Roles are promoted through single-use access
-- codes; the plaintext code is never stored, only its hash.

CREATE TABLE IF NOT EXISTS admins (
    telegram_id BIGINT PRIMARY KEY,
    username VARCHAR(100) NOT NULL DEFAULT '',
    first_name VARCHAR(100) NOT NULL DEFAULT '',
    role VARCHAR(20) NOT NULL DEFAULT 'student',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    promoted_by BIGINT NOT NULL DEFAULT 0,
    promoted_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_role CHECK (role IN ('student', 'admin', 'super_admin'))
);

CREATE INDEX IF NOT EXISTS idx_admins_role ON admins(role) WHERE role != 'student';
CREATE INDEX IF NOT EXISTS idx_admins_active ON admins(is_active) WHERE is_active = TRUE;

-- Review scopes. course_id = 0 means the whole university, so the column
-- carries no foreign key.
CREATE TABLE IF NOT EXISTS admin_scopes (
    id BIGSERIAL PRIMARY KEY,
    admin_id BIGINT NOT NULL REFERENCES admins(telegram_id) ON DELETE CASCADE,
    university_id BIGINT NOT NULL REFERENCES universities(id) ON DELETE CASCADE,
    course_id BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE(admin_id, university_id, course_id)
);

CREATE INDEX IF NOT EXISTS idx_admin_scopes_admin ON admin_scopes(admin_id);

CREATE TABLE IF NOT EXISTS access_codes (
    id BIGSERIAL PRIMARY KEY,
    code_hash TEXT NOT NULL,
    created_by BIGINT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    used_by BIGINT NOT NULL DEFAULT 0,
    used_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMP WITH TIME ZONE NOT NULL
);

-- Redemption scans only codes that could still be redeemed
CREATE INDEX IF NOT EXISTS idx_access_codes_redeemable ON access_codes(expires_at)
    WHERE is_active = TRUE AND used_by = 0;
CREATE INDEX IF NOT EXISTS idx_access_codes_creator ON access_codes(created_by);

-- Updated_at trigger function for automatic timestamp updates
CREATE OR REPLACE FUNCTION update_updated_at_column()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ language 'plpgsql';

DROP TRIGGER IF EXISTS update_admins_updated_at ON admins;
CREATE TRIGGER update_admins_updated_at
    BEFORE UPDATE ON admins
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();
`

const migration002Down = `
DROP TRIGGER IF EXISTS update_admins_updated_at ON admins;
DROP FUNCTION IF EXISTS update_updated_at_column();
DROP TABLE IF EXISTS access_codes;
DROP TABLE IF EXISTS admin_scopes;
DROP TABLE IF EXISTS admins;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE CONTENT
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create upload batch and candidate tables
-- Version: 003
-- Philosophy: nothing is deleted, everything is decided. Candidates move
-- through state transitions; rejected ones stay queryable forever.

CREATE TABLE IF NOT EXISTS upload_batches (
    id UUID PRIMARY KEY,
    uploader_id BIGINT NOT NULL,
    topic_id BIGINT NOT NULL REFERENCES topics(id),
    source_kind VARCHAR(10) NOT NULL,
    source_ref TEXT NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL DEFAULT 'draft',
    lock_holder_id BIGINT NOT NULL DEFAULT 0,
    lock_acquired_at TIMESTAMP WITH TIME ZONE,
    pending_count INTEGER NOT NULL DEFAULT 0,
    approved_count INTEGER NOT NULL DEFAULT 0,
    rejected_count INTEGER NOT NULL DEFAULT 0,
    degraded BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_batch_status CHECK (status IN ('draft', 'locked', 'in_review', 'completed', 'abandoned')),
    CONSTRAINT valid_source_kind CHECK (source_kind IN ('text', 'pdf', 'photo')),
    CONSTRAINT valid_counters CHECK (pending_count >= 0 AND approved_count >= 0 AND rejected_count >= 0)
);

CREATE INDEX IF NOT EXISTS idx_batches_uploader ON upload_batches(uploader_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_batches_topic ON upload_batches(topic_id);
CREATE INDEX IF NOT EXISTS idx_batches_status ON upload_batches(status);

-- Review queue scans reviewable batches oldest-first
CREATE INDEX IF NOT EXISTS idx_batches_queue ON upload_batches(created_at ASC)
    WHERE status IN ('draft', 'locked', 'in_review');

CREATE TABLE IF NOT EXISTS candidates (
    id UUID PRIMARY KEY,
    batch_id UUID NOT NULL REFERENCES upload_batches(id),
    topic_id BIGINT NOT NULL REFERENCES topics(id),
    question TEXT NOT NULL,
    options TEXT[] NOT NULL,
    correct_index SMALLINT NOT NULL,
    explanation TEXT NOT NULL DEFAULT '',
    difficulty VARCHAR(10) NOT NULL DEFAULT 'easy',
    confidence REAL NOT NULL DEFAULT 0,
    score SMALLINT NOT NULL DEFAULT 0,
    verdict VARCHAR(10) NOT NULL DEFAULT '',
    comments TEXT NOT NULL DEFAULT '',
    heuristic BOOLEAN NOT NULL DEFAULT FALSE,
    state VARCHAR(10) NOT NULL DEFAULT 'pending',
    reviewed_by BIGINT NOT NULL DEFAULT 0,
    decided_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_state CHECK (state IN ('pending', 'approved', 'rejected')),
    CONSTRAINT valid_verdict CHECK (verdict IN ('', 'accept', 'flag', 'reject')),
    CONSTRAINT valid_difficulty CHECK (difficulty IN ('easy', 'medium', 'hard')),
    CONSTRAINT valid_option_count CHECK (array_length(options, 1) = 4),
    CONSTRAINT valid_correct_index CHECK (correct_index >= 0 AND correct_index <= 3),
    CONSTRAINT valid_score CHECK (score >= 0 AND score <= 100)
);

CREATE INDEX IF NOT EXISTS idx_candidates_batch ON candidates(batch_id, created_at);
CREATE INDEX IF NOT EXISTS idx_candidates_pending ON candidates(batch_id) WHERE state = 'pending';

-- Published questions are approved candidates; quiz delivery filters by
-- topic and difficulty
CREATE INDEX IF NOT EXISTS idx_candidates_published ON candidates(topic_id, difficulty)
    WHERE state = 'approved';

DROP TRIGGER IF EXISTS update_batches_updated_at ON upload_batches;
CREATE TRIGGER update_batches_updated_at
    BEFORE UPDATE ON upload_batches
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();

DROP TRIGGER IF EXISTS update_candidates_updated_at ON candidates;
CREATE TRIGGER update_candidates_updated_at
    BEFORE UPDATE ON candidates
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();
`

const migration003Down = `
DROP TRIGGER IF EXISTS update_candidates_updated_at ON candidates;
DROP TRIGGER IF EXISTS update_batches_updated_at ON upload_batches;
DROP TABLE IF EXISTS candidates;
DROP TABLE IF EXISTS upload_batches;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: CREATE AUDIT
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
-- Migration: Create audit trail
-- Version: 004
-- Purpose: Every mutation of a batch or candidate writes here in the same
-- transaction. The table is append-only and enforces that at the schema
-- level.

CREATE TABLE IF NOT EXISTS audit_records (
    id BIGSERIAL PRIMARY KEY,
    target_kind VARCHAR(20) NOT NULL,
    target_id TEXT NOT NULL,
    action VARCHAR(30) NOT NULL,
    field VARCHAR(30) NOT NULL DEFAULT '',
    old_value TEXT NOT NULL DEFAULT '',
    new_value TEXT NOT NULL DEFAULT '',
    actor_id BIGINT NOT NULL,
    actor_role VARCHAR(20) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_target_kind CHECK (target_kind IN ('batch', 'candidate', 'admin')),
    CONSTRAINT valid_actor_role CHECK (actor_role IN ('student', 'admin', 'super_admin', 'system'))
);

CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_records(target_kind, target_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_records(actor_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_records(action, created_at DESC);

-- Reject updates and deletes outright
CREATE OR REPLACE FUNCTION reject_audit_mutation()
RETURNS TRIGGER AS $$
BEGIN
    RAISE EXCEPTION 'audit_records is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS audit_records_append_only ON audit_records;
CREATE TRIGGER audit_records_append_only
    BEFORE UPDATE OR DELETE ON audit_records
    FOR EACH ROW
    EXECUTE FUNCTION reject_audit_mutation();
`

const migration004Down = `
DROP TRIGGER IF EXISTS audit_records_append_only ON audit_records;
DROP FUNCTION IF EXISTS reject_audit_mutation();
DROP TABLE IF EXISTS audit_records;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 005: SEED NAIROBI CURRICULUM
// ══════════════════════════════════════════════════════════════════════════════

const migration005Up = `
-- Migration: Seed University of Nairobi MBChB curriculum
-- Version: 005
-- Purpose: Years 1-3 units and topics. Idempotent, safe to re-run.

INSERT INTO universities (name)
VALUES ('University of Nairobi')
ON CONFLICT (name) DO NOTHING;

INSERT INTO courses (university_id, name)
SELECT u.id, 'MBChB'
FROM universities u
WHERE u.name = 'University of Nairobi'
ON CONFLICT (university_id, name) DO NOTHING;

INSERT INTO units (course_id, name, year)
SELECT c.id, v.name, v.year
FROM courses c
JOIN universities u ON u.id = c.university_id
CROSS JOIN (VALUES
    -- Year 1
    ('Human Anatomy', 1),
    ('Physiology I', 1),
    ('Biochemistry', 1),
    ('Behavioural Science', 1),
    ('IT in Medicine', 1),
    -- Year 2
    ('Microbiology', 2),
    ('Immunology', 2),
    ('Pathology I', 2),
    ('Physiology II', 2),
    -- Year 3
    ('Pathology II', 3),
    ('Clinical Pharmacology I', 3),
    ('General Surgery I', 3),
    ('Internal Medicine I', 3)
) AS v(name, year)
WHERE u.name = 'University of Nairobi' AND c.name = 'MBChB'
ON CONFLICT (course_id, name) DO NOTHING;

INSERT INTO topics (unit_id, name)
SELECT un.id, v.topic
FROM units un
JOIN courses c ON c.id = un.course_id
JOIN universities u ON u.id = c.university_id
JOIN (VALUES
    ('Human Anatomy', 'Upper Limb'),
    ('Human Anatomy', 'Head and Neck'),
    ('Human Anatomy', 'Thorax'),
    ('Human Anatomy', 'Abdomen'),
    ('Human Anatomy', 'Lower Limb'),
    ('Human Anatomy', 'Neuroanatomy'),
    ('Physiology I', 'Cardiovascular'),
    ('Physiology I', 'Respiratory'),
    ('Physiology I', 'Renal'),
    ('Physiology I', 'Endocrine'),
    ('Biochemistry', 'Carbohydrates'),
    ('Biochemistry', 'Proteins'),
    ('Biochemistry', 'Lipids'),
    ('Biochemistry', 'Enzymes'),
    ('Behavioural Science', 'Personality'),
    ('Behavioural Science', 'Stress'),
    ('Behavioural Science', 'Communication Skills'),
    ('IT in Medicine', 'Data Management'),
    ('IT in Medicine', 'Medical Informatics'),
    ('Microbiology', 'Bacteriology'),
    ('Microbiology', 'Virology'),
    ('Microbiology', 'Parasitology'),
    ('Microbiology', 'Mycology'),
    ('Immunology', 'Innate Immunity'),
    ('Immunology', 'Adaptive Immunity'),
    ('Immunology', 'Vaccines'),
    ('Pathology I', 'Cellular Injury'),
    ('Pathology I', 'Inflammation'),
    ('Pathology I', 'Neoplasia'),
    ('Physiology II', 'Reproductive'),
    ('Physiology II', 'Gastrointestinal'),
    ('Physiology II', 'Neurophysiology'),
    ('Pathology II', 'Systemic Pathology'),
    ('Pathology II', 'Hematology'),
    ('Pathology II', 'Immunopathology'),
    ('Clinical Pharmacology I', 'Autonomic Drugs'),
    ('Clinical Pharmacology I', 'Antibiotics'),
    ('Clinical Pharmacology I', 'Analgesics'),
    ('General Surgery I', 'Wound Healing'),
    ('General Surgery I', 'Fluid Therapy'),
    ('General Surgery I', 'Trauma Basics'),
    ('Internal Medicine I', 'Cardiovascular Diseases'),
    ('Internal Medicine I', 'Respiratory Diseases')
) AS v(unit, topic) ON un.name = v.unit
WHERE u.name = 'University of Nairobi' AND c.name = 'MBChB'
ON CONFLICT (unit_id, name) DO NOTHING;
`

const migration005Down = `
DELETE FROM topics WHERE unit_id IN (
    SELECT un.id FROM units un
    JOIN courses c ON c.id = un.course_id
    JOIN universities u ON u.id = c.university_id
    WHERE u.name = 'University of Nairobi'
);
DELETE FROM units WHERE course_id IN (
    SELECT c.id FROM courses c
    JOIN universities u ON u.id = c.university_id
    WHERE u.name = 'University of Nairobi'
);
DELETE FROM courses WHERE university_id IN (
    SELECT id FROM universities WHERE name = 'University of Nairobi'
);
DELETE FROM universities WHERE name = 'University of Nairobi';
`
