package sqlinline

const QEnsureCreditAccount = `--sql 2dc06f2e-0f99-48fd-870d-f7e43f870836
insert into credit_accounts(owner_id, period, standard_limit, premium_limit)
values ($1, $2, $3::int, $4::int)
on conflict (owner_id, period) do nothing;
`

// The usage increment and the debit row insert are one statement: if the row insert fails
// the increment is rolled back with it.
const QDebitStandard = `--sql 296efc43-777b-4ca7-a025-55e3b9032256
with debited as (
  update credit_accounts
  set standard_used = standard_used + $4::int,
      updated_at = $5
  where owner_id = $1
    and period = $2
    and standard_used + $4::int <= standard_limit
    and not exists (select 1 from credit_debits where job_id = $3::uuid)
  returning owner_id, period
)
insert into credit_debits(job_id, owner_id, period, pool, amount, created_at)
select $3::uuid, owner_id, period, 'standard', $4::int, $5
from debited
returning job_id::text;
`

const QDebitPremium = `--sql 9be7c978-6fe5-4946-b4fc-634233a3925f
with debited as (
  update credit_accounts
  set premium_used = premium_used + $4::int,
      updated_at = $5
  where owner_id = $1
    and period = $2
    and premium_used + $4::int <= premium_limit
    and not exists (select 1 from credit_debits where job_id = $3::uuid)
  returning owner_id, period
)
insert into credit_debits(job_id, owner_id, period, pool, amount, created_at)
select $3::uuid, owner_id, period, 'premium', $4::int, $5
from debited
returning job_id::text;
`

const QRefundDebit = `--sql fbfa53e7-7da1-4bf3-aba4-8f18ab17f517
with refunded as (
  update credit_debits
  set refunded_at = $3
  where job_id = $1::uuid
    and pool = $2::text
    and refunded_at is null
  returning owner_id, period, pool, amount
)
update credit_accounts a
set standard_used = case when r.pool = 'standard' then greatest(a.standard_used - r.amount, 0) else a.standard_used end,
    premium_used = case when r.pool = 'premium' then greatest(a.premium_used - r.amount, 0) else a.premium_used end,
    updated_at = $3
from refunded r
where a.owner_id = r.owner_id
  and a.period = r.period
returning a.owner_id;
`

const QSelectCreditAccount = `--sql fb3e4246-77d3-4376-b0c3-ee5abb52e6d1
select owner_id, period, standard_limit, standard_used, premium_limit, premium_used, updated_at
from credit_accounts
where owner_id = $1
  and period = $2
limit 1;
`

const QUpdateCreditLimits = `--sql 3f62c05b-ba5c-4632-bde8-b67efe2296d3
update credit_accounts
set standard_limit = $3::int,
    premium_limit = $4::int,
    updated_at = now()
where owner_id = $1
  and period = $2;
`
