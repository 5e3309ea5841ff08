package sqlinline

const QRecordJobTransition = `--sql bcd2a3c8-4a06-4dbe-a552-942b2a1a6593
insert into jobs (id, type, user_id, status, retry_count, error_message, created_at, updated_at)
values ($1, $2, nullif($3, ''), $4, $5, nullif($6, ''), $7, $7)
on conflict (id) do update
set status = excluded.status,
    retry_count = excluded.retry_count,
    error_message = coalesce(excluded.error_message, jobs.error_message),
    updated_at = excluded.updated_at;
`
