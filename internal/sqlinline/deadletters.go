package sqlinline

const QInsertDeadLetter = `--sql 367ae232-de9d-4554-8315-151819142c52
insert into dead_letters (id, job_id, job_type, failure_type, reason, attempts, record_json, created_at)
values ($1, $2, $3, $4, $5, $6, $7, $8);
`

const QListDeadLetters = `--sql 274780d4-5508-45db-a2d2-c4a340f816cd
select record_json
from dead_letters
where ($1 = '' or job_type = $1)
  and ($2 = '' or failure_type = $2)
  and ($3::timestamptz is null or created_at >= $3)
  and ($4::timestamptz is null or created_at < $4)
order by created_at desc, id desc
limit $5;
`

const QDeadLetterStats = `--sql e9ea0ac9-ae25-4d46-8642-4bdd4cbe97da
select failure_type, count(*)
from dead_letters
group by failure_type;
`
