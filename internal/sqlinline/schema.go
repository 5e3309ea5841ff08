package sqlinline

const QEnsureSchema = `--sql 9a6d5ce6-973c-40c2-a8a8-19021193015b
create table if not exists generation_requests (
    id uuid primary key,
    user_id text not null,
    project_id text not null default '',
    kind text not null,
    prompt text not null,
    resolution text not null,
    duration_seconds double precision not null default 0,
    engine text not null,
    style_json jsonb not null default '{}'::jsonb,
    priority smallint not null default 2,
    estimated_cost double precision not null default 0,
    reference_urls text[] not null default '{}',
    status text not null default 'QUEUED',
    output_json jsonb,
    error_message text,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
create index if not exists idx_generation_requests_queued
    on generation_requests (priority, created_at) where status = 'QUEUED';

create table if not exists jobs (
    id text primary key,
    type text not null,
    user_id text,
    status text not null,
    retry_count integer not null default 0,
    error_message text,
    created_at timestamptz not null,
    updated_at timestamptz not null
);

create table if not exists dead_letters (
    id text primary key,
    job_id text not null,
    job_type text not null,
    failure_type text not null,
    reason text not null,
    attempts integer not null,
    record_json jsonb not null,
    created_at timestamptz not null
);
create index if not exists idx_dead_letters_type_time on dead_letters (job_type, created_at desc);

create table if not exists integration_tokens (
    id uuid primary key,
    provider text not null unique,
    token text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`
