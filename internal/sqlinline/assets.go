package sqlinline

const QInsertAsset = `--sql dbc94822-4c5d-45f6-b26c-66172e12c5c9
insert into assets(id, job_id, owner_id, source_url, storage_key, url, mime, bytes, created_at)
values ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9)
on conflict (id) do nothing;
`

const QSelectAssetsByJobID = `--sql ab208eed-a4f7-4217-9cc8-b23629700628
select id::text, job_id::text, owner_id, source_url, storage_key, url, mime, bytes, created_at
from assets
where job_id = $1::uuid
order by created_at asc, storage_key asc;
`
