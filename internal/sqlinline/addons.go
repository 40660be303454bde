package sqlinline

const QInsertAddon = `--sql 43f48cc6-245d-4f0d-83a3-6c13a738798b
insert into addon_purchases(id, owner_id, kind, price, currency, status, charge_id, created_at)
values ($1::uuid, $2, $3, $4, $5, $6, $7, $8);
`

const QSelectAddonByID = `--sql 4ab74553-0e49-4ae7-8865-73f5b44f4213
select
  id::text,
  owner_id,
  kind,
  price,
  currency,
  status,
  charge_id,
  coalesce(linked_job_id::text, ''),
  created_at,
  paid_at
from addon_purchases
where id = $1::uuid
limit 1;
`

const QSelectPendingAddon = `--sql 89bc19c1-faab-4584-85cf-21a25cfd46fb
select
  id::text,
  owner_id,
  kind,
  price,
  currency,
  status,
  charge_id,
  coalesce(linked_job_id::text, ''),
  created_at,
  paid_at
from addon_purchases
where owner_id = $1
  and kind = $2
  and status = 'pending'
order by created_at asc
limit 1;
`

const QClaimPaidAddon = `--sql b016aed6-ba41-4abf-a98b-caebfd730d93
update addon_purchases
set linked_job_id = $3::uuid
where id = (
  select id
  from addon_purchases
  where owner_id = $1
    and kind = $2
    and status = 'paid'
    and linked_job_id is null
  order by paid_at asc, created_at asc
  limit 1
  for update skip locked
)
returning
  id::text,
  owner_id,
  kind,
  price,
  currency,
  status,
  charge_id,
  coalesce(linked_job_id::text, ''),
  created_at,
  paid_at;
`

const QReleaseAddon = `--sql 2649a25f-edef-4ece-9bdc-803300761357
update addon_purchases
set linked_job_id = null
where linked_job_id = $1::uuid;
`

const QAttachAddonCharge = `--sql 3f3d503a-3240-4215-9875-b0b211560e61
update addon_purchases
set charge_id = $2
where id = $1::uuid
  and status = 'pending';
`

const QSettleAddon = `--sql 28df7c52-71dd-4ad8-859e-0a7bc684de5a
update addon_purchases
set status = $3::text,
    charge_id = coalesce(nullif($2::text, ''), charge_id),
    paid_at = case when $3::text = 'paid' then $4 else paid_at end
where id = $1::uuid
  and status = 'pending'
returning
  id::text,
  owner_id,
  kind,
  price,
  currency,
  status,
  charge_id,
  coalesce(linked_job_id::text, ''),
  created_at,
  paid_at;
`
