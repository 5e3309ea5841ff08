package sqlinline

const QSelectProviderToken = `--sql 8c9bc325-a464-4ed0-9c09-be282deef77e
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertProviderToken = `--sql 10a38224-f140-43d6-b53e-6b995e3c8720
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
