package sqlinline

const QRecordProviderEvent = `--sql 250b0be6-60d4-4fa4-97c8-ce9b82a58ada
insert into provider_events(provider, provider_job_id, fingerprint)
values ($1, $2, $3)
on conflict do nothing;
`

const QForgetProviderEvent = `--sql d6e4098b-2dee-43b2-ba1a-c0151b1c37b9
delete from provider_events
where provider = $1
  and provider_job_id = $2
  and fingerprint = $3;
`
