package redis

import goredis "github.com/redis/go-redis/v9"

// Script results: 1 applied, 0 precondition failed, -1 entity missing.
const (
	scriptApplied  = 1
	scriptRejected = 0
	scriptMissing  = -1
)

// nsAfter compares two Unix-nanosecond decimal strings without going
// through Lua numbers, which are doubles and round past 2^53.
const nsAfter = `
local function ns_after(a, b)
  if #a ~= #b then return #a > #b end
  return a > b
end
`

// KEYS: entity, due, type index, global index.
// ARGV: id, due score, created score, field/value pairs...
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
return 1
`)

// KEYS: entity.
// ARGV: expected version, holder, expiry ns, now ns.
var acquireScript = goredis.NewScript(nsAfter + `
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local cur = redis.call('HMGET', KEYS[1], 'version', 'lease_holder', 'lease_expiry')
if cur[1] ~= ARGV[1] then return 0 end
if cur[2] and cur[2] ~= '' and cur[3] and cur[3] ~= '' and ns_after(cur[3], ARGV[4]) then
  return 0
end
redis.call('HSET', KEYS[1], 'lease_holder', ARGV[2], 'lease_expiry', ARGV[3])
return 1
`)

// KEYS: entity.
// ARGV: expected version, fence holder or '', due prefix, id, new state,
// due score, field/value pairs...
var saveScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local cur = redis.call('HMGET', KEYS[1], 'version', 'lease_holder', 'type', 'state')
if cur[1] ~= ARGV[1] then return 0 end
if ARGV[2] ~= '' and cur[2] ~= ARGV[2] then return 0 end
redis.call('ZREM', ARGV[3] .. cur[3] .. ':' .. cur[4], ARGV[4])
redis.call('HSET', KEYS[1], unpack(ARGV, 7))
redis.call('ZADD', ARGV[3] .. cur[3] .. ':' .. ARGV[5], ARGV[6], ARGV[4])
return 1
`)

// KEYS: entity.
// ARGV: holder.
var releaseScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'lease_holder') == ARGV[1] then
  redis.call('HSET', KEYS[1], 'lease_holder', '', 'lease_expiry', '')
end
return 1
`)

// KEYS: due sets to scan.
// ARGV: now score (µs), now ns, per-set limit (0 = all), entity key prefix.
// The score range is coarse; state_ts and lease_expiry decide in ns.
var findScript = goredis.NewScript(nsAfter + `
local out = {}
local limit = tonumber(ARGV[3])
for _, key in ipairs(KEYS) do
  local found = 0
  for _, member in ipairs(redis.call('ZRANGEBYSCORE', key, '-inf', ARGV[1])) do
    local f = redis.call('HMGET', ARGV[4] .. member, 'state_ts', 'lease_holder', 'lease_expiry')
    local due = f[1] and not ns_after(f[1], ARGV[2])
    local free = (not f[2]) or f[2] == '' or (not f[3]) or f[3] == '' or not ns_after(f[3], ARGV[2])
    if due and free then
      out[#out + 1] = member
      found = found + 1
      if limit > 0 and found >= limit then break end
    end
  end
end
return out
`)
