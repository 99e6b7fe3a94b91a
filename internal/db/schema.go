package db

// SchemaSQL contains the database schema initialization SQL.
//
// Step, lodging and activity timestamps are kept as strings so that malformed user input
// survives a round trip and is skipped by the consistency engine instead of rejected here.
const SchemaSQL = `
    -- ==========================================================================
    -- TRIP TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS trip SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS owner ON trip TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON trip TYPE string;
    DEFINE FIELD IF NOT EXISTS description ON trip TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS start_date ON trip TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS end_date ON trip TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON trip TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- STEP TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS step SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS trip_id ON step TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON step TYPE string;
    DEFINE FIELD IF NOT EXISTS kind ON step TYPE string ASSERT $value IN ["waypoint", "pass_through"];
    DEFINE FIELD IF NOT EXISTS address ON step TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS arrival_date_time ON step TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS departure_date_time ON step TYPE option<string>;
    -- Written by the consistency engine only
    DEFINE FIELD IF NOT EXISTS travel_time_previous_step ON step TYPE option<int | null>;
    DEFINE FIELD IF NOT EXISTS distance_previous_step ON step TYPE option<float | null>;
    DEFINE FIELD IF NOT EXISTS is_arrival_time_consistent ON step TYPE bool DEFAULT true;
    DEFINE FIELD IF NOT EXISTS consistency_note ON step TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS narrative ON step TYPE option<string>;

    DEFINE INDEX IF NOT EXISTS step_trip ON step FIELDS trip_id;

    -- ==========================================================================
    -- LODGING / ACTIVITY TABLES (children of waypoint steps)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS lodging SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS step_id ON lodging TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON lodging TYPE string;
    DEFINE FIELD IF NOT EXISTS address ON lodging TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS active ON lodging TYPE bool DEFAULT true;
    DEFINE FIELD IF NOT EXISTS arrival_date_time ON lodging TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS departure_date_time ON lodging TYPE option<string>;

    DEFINE INDEX IF NOT EXISTS lodging_step ON lodging FIELDS step_id, active;

    DEFINE TABLE IF NOT EXISTS activity SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS step_id ON activity TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON activity TYPE string;
    DEFINE FIELD IF NOT EXISTS address ON activity TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS active ON activity TYPE bool DEFAULT true;
    DEFINE FIELD IF NOT EXISTS start_date_time ON activity TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS end_date_time ON activity TYPE option<string>;

    DEFINE INDEX IF NOT EXISTS activity_step ON activity FIELDS step_id, active;

    -- ==========================================================================
    -- TASK TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS task SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS trip_id ON task TYPE string;
    DEFINE FIELD IF NOT EXISTS title ON task TYPE string;
    DEFINE FIELD IF NOT EXISTS description ON task TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS due_date ON task TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS done ON task TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS source ON task TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON task TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS task_trip ON task FIELDS trip_id;

    -- ==========================================================================
    -- JOB TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS target_id ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS kind ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON job TYPE string
        ASSERT $value IN ["pending", "running", "completed", "failed", "cancelled"];
    DEFINE FIELD IF NOT EXISTS total ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS completed ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS percentage ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS result ON job TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS started_at ON job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON job TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS job_target ON job FIELDS target_id;
    DEFINE INDEX IF NOT EXISTS job_status ON job FIELDS status;

    -- ==========================================================================
    -- JOB LOCK TABLE (single-flight)
    -- ==========================================================================
    -- Record id is "<kind>:<target>"; it exists exactly while a non-terminal job holds the pair
    DEFINE TABLE IF NOT EXISTS job_lock SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job ON job_lock TYPE string;
    DEFINE FIELD IF NOT EXISTS created ON job_lock TYPE datetime DEFAULT time::now();
`
