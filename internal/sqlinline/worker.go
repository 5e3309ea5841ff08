package sqlinline

const QWorkerClaimRequests = `--sql 4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db
with next_requests as (
    select id
    from generation_requests
    where status = 'QUEUED'
    order by priority asc, created_at asc
    for update skip locked
    limit $1
),
updated as (
    update generation_requests
    set status = 'RUNNING', updated_at = now()
    where id in (select id from next_requests)
    returning id::text as id, user_id, project_id, kind, prompt, resolution, duration_seconds,
              engine, style_json, priority, estimated_cost, reference_urls, created_at
)
select * from updated order by priority asc, created_at asc;
`

const QWorkerMarkRequestSucceeded = `--sql f11375c8-cc28-4545-b1e7-5e3da47a8898
update generation_requests
set status = 'SUCCEEDED', output_json = $2, error_message = null, updated_at = now()
where id = $1;
`

const QWorkerMarkRequestFailed = `--sql fdf8b4df-59be-45d9-b3af-0e81eda4be1c
update generation_requests
set status = 'FAILED', error_message = $2, updated_at = now()
where id = $1;
`

const QWorkerRequeueStale = `--sql d046730d-68c7-4589-b8ad-905c9ee48fa0
update generation_requests
set status = 'QUEUED', updated_at = now()
where status = 'RUNNING' and updated_at < now() - make_interval(secs => $1);
`
