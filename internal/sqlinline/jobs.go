package sqlinline

const QInsertJob = `--sql 2a80c45f-d7fd-442f-a943-c0fe3b1141aa
insert into generation_jobs(
  id,
  owner_id,
  project_id,
  engine,
  provider,
  model,
  status,
  provider_job_id,
  input_refs,
  prompt,
  cost,
  credit_pool,
  period,
  addon_id,
  created_at
) values (
  $1::uuid,
  $2,
  $3,
  $4,
  $5,
  $6,
  $7,
  nullif($8::text, ''),
  $9::jsonb,
  $10,
  $11,
  $12,
  $13,
  nullif($14::text, '')::uuid,
  $15
);
`

const QSelectJobByID = `--sql 5cc153ac-f381-4019-bac2-842d32b98cb9
select
  id::text,
  owner_id,
  project_id,
  engine,
  provider,
  model,
  status,
  coalesce(provider_job_id, ''),
  input_refs,
  prompt,
  coalesce(output_refs, '[]'::jsonb),
  cost,
  credit_pool,
  period,
  coalesce(addon_id::text, ''),
  error,
  created_at,
  started_at,
  completed_at
from generation_jobs
where id = $1::uuid
limit 1;
`

const QSelectJobByProviderJobID = `--sql ebcf6e0d-5127-4faa-84ff-4ab162e5fe79
select
  id::text,
  owner_id,
  project_id,
  engine,
  provider,
  model,
  status,
  coalesce(provider_job_id, ''),
  input_refs,
  prompt,
  coalesce(output_refs, '[]'::jsonb),
  cost,
  credit_pool,
  period,
  coalesce(addon_id::text, ''),
  error,
  created_at,
  started_at,
  completed_at
from generation_jobs
where provider = $1
  and provider_job_id = $2
limit 1;
`

const QMarkJobProcessing = `--sql e44951fc-48ff-484a-8f7f-aa5456ed8bd4
update generation_jobs
set status = 'processing',
    provider_job_id = $2,
    started_at = $3
where id = $1::uuid
  and status = 'pending'
  and provider_job_id is null;
`

const QFinishJob = `--sql 41ed2e87-edda-4f56-a65b-c932391811b2
update generation_jobs
set status = $2::text,
    completed_at = $5,
    output_refs = case when $2::text = 'succeeded' then $3::jsonb else output_refs end,
    error = case when $2::text = 'failed' then $4::jsonb else error end
where id = $1::uuid
  and status = any($6::text[])
returning
  id::text,
  owner_id,
  project_id,
  engine,
  provider,
  model,
  status,
  coalesce(provider_job_id, ''),
  input_refs,
  prompt,
  coalesce(output_refs, '[]'::jsonb),
  cost,
  credit_pool,
  period,
  coalesce(addon_id::text, ''),
  error,
  created_at,
  started_at,
  completed_at;
`

const QListStaleProcessingJobs = `--sql 65aec351-a0cc-4275-855c-500a22e576a1
select
  id::text,
  owner_id,
  project_id,
  engine,
  provider,
  model,
  status,
  coalesce(provider_job_id, ''),
  input_refs,
  prompt,
  coalesce(output_refs, '[]'::jsonb),
  cost,
  credit_pool,
  period,
  coalesce(addon_id::text, ''),
  error,
  created_at,
  started_at,
  completed_at
from generation_jobs
where status = 'processing'
  and started_at < $1
order by started_at asc
limit $2::int;
`
