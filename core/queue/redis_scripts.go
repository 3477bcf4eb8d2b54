package queue

import "github.com/redis/go-redis/v9"

// Shared Lua prelude. Scores are formatted with %.0f before being handed back
// to redis.call so large composite values never pass through Lua's default
// number-to-string conversion.
//
// The waiting-set score encodes strict priority bands above FIFO time order:
// (4 - priority) * 1e13 + enqueueMillis. Millisecond timestamps stay below
// 1e13, so bands never overlap and every score is exactly representable as a
// float64.
const luaPrelude = `
local function fmtnum(x)
	return string.format('%.0f', x)
end

local function waitingScore(prefix, id, fallbackMs)
	local jk = prefix .. id
	local pr = tonumber(redis.call('HGET', jk, 'priority') or '2')
	local created = tonumber(redis.call('HGET', jk, 'created_at') or fallbackMs)
	return (4 - pr) * 1e13 + created
end

local function promoteDue(waitingKey, delayedKey, prefix, nowMs)
	local due = redis.call('ZRANGEBYSCORE', delayedKey, '-inf', nowMs, 'LIMIT', 0, 100)
	for _, id in ipairs(due) do
		redis.call('ZREM', delayedKey, id)
		redis.call('ZADD', waitingKey, fmtnum(waitingScore(prefix, id, nowMs)), id)
		redis.call('HSET', prefix .. id, 'status', 'waiting')
	end
end

local function trimFinished(zkey, priokey, keep, prefix)
	if keep <= 0 then
		return
	end
	local n = redis.call('ZCARD', zkey)
	if n <= keep then
		return
	end
	local evict = redis.call('ZRANGE', zkey, 0, n - keep - 1)
	for _, eid in ipairs(evict) do
		local ek = prefix .. eid
		local pr = redis.call('HGET', ek, 'priority')
		if pr then
			redis.call('HINCRBY', priokey, pr, -1)
		end
		redis.call('DEL', ek)
		redis.call('ZREM', zkey, eid)
	end
end
`

// KEYS: waiting, delayed, prio
// ARGV: id, payload, priority, status, attempts, maxAttempts, createdMs, scheduledMs, jobPrefix
// Returns 0 when the job id already exists, 1 on success.
var scriptCreateJob = redis.NewScript(luaPrelude + `
local jk = ARGV[9] .. ARGV[1]
if redis.call('EXISTS', jk) == 1 then
	return 0
end
redis.call('HSET', jk,
	'id', ARGV[1], 'payload', ARGV[2], 'priority', ARGV[3], 'status', ARGV[4],
	'attempts', ARGV[5], 'max_attempts', ARGV[6], 'stalled', '0',
	'created_at', ARGV[7], 'scheduled_at', ARGV[8],
	'acquired_at', '', 'processed_at', '', 'result', '', 'error', '')
if ARGV[4] == 'delayed' then
	redis.call('ZADD', KEYS[2], ARGV[8], ARGV[1])
else
	redis.call('ZADD', KEYS[1], fmtnum((4 - tonumber(ARGV[3])) * 1e13 + tonumber(ARGV[7])), ARGV[1])
end
redis.call('HINCRBY', KEYS[3], ARGV[3], 1)
return 1
`)

// KEYS: waiting, delayed, meta
// ARGV: nowMs, jobPrefix
// Returns the head job's record, or nil when empty or paused.
var scriptNextJob = redis.NewScript(luaPrelude + `
if redis.call('HGET', KEYS[3], 'paused') == '1' then
	return nil
end
promoteDue(KEYS[1], KEYS[2], ARGV[2], ARGV[1])
local head = redis.call('ZRANGE', KEYS[1], 0, 0)
if #head == 0 then
	return nil
end
return redis.call('HGETALL', ARGV[2] .. head[1])
`)

// KEYS: waiting, delayed, active, meta
// ARGV: nowMs, jobPrefix
// Atomically pops the waiting head into the active set and returns its
// record, or nil when empty or paused. The pop and the active insert happen
// in one script, so concurrent callers can never claim the same id.
var scriptAcquireJob = redis.NewScript(luaPrelude + `
if redis.call('HGET', KEYS[4], 'paused') == '1' then
	return nil
end
promoteDue(KEYS[1], KEYS[2], ARGV[2], ARGV[1])
local head = redis.call('ZRANGE', KEYS[1], 0, 0)
if #head == 0 then
	return nil
end
local id = head[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[3], ARGV[1], id)
local jk = ARGV[2] .. id
redis.call('HSET', jk, 'status', 'active', 'acquired_at', ARGV[1])
return redis.call('HGETALL', jk)
`)

// KEYS: active, completed, prio
// ARGV: id, result, nowMs, keep, jobPrefix
// Returns -1 when the record is gone, 0 when the job is not active, 1 on success.
var scriptCompleteJob = redis.NewScript(luaPrelude + `
local jk = ARGV[5] .. ARGV[1]
if redis.call('EXISTS', jk) == 0 then
	return -1
end
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('HSET', jk, 'status', 'completed', 'processed_at', ARGV[3], 'result', ARGV[2], 'error', '')
trimFinished(KEYS[2], KEYS[3], tonumber(ARGV[4]), ARGV[5])
return 1
`)

// KEYS: active, failed, prio
// ARGV: id, errMsg, nowMs, keep, jobPrefix
// Consumes one attempt. Same return codes as the complete script.
var scriptFailJob = redis.NewScript(luaPrelude + `
local jk = ARGV[5] .. ARGV[1]
if redis.call('EXISTS', jk) == 0 then
	return -1
end
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('HINCRBY', jk, 'attempts', 1)
redis.call('HSET', jk, 'status', 'failed', 'processed_at', ARGV[3], 'error', ARGV[2], 'result', '')
trimFinished(KEYS[2], KEYS[3], tonumber(ARGV[4]), ARGV[5])
return 1
`)

// KEYS: failed, waiting, delayed
// ARGV: id, runAtMs, nowMs, jobPrefix
// Returns -1 when the record is gone, 0 when the job is not failed, 1 on success.
var scriptRequeueJob = redis.NewScript(luaPrelude + `
local jk = ARGV[4] .. ARGV[1]
if redis.call('EXISTS', jk) == 0 then
	return -1
end
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', jk, 'error', '', 'processed_at', '', 'acquired_at', '', 'scheduled_at', ARGV[2])
if tonumber(ARGV[2]) > tonumber(ARGV[3]) then
	redis.call('HSET', jk, 'status', 'delayed')
	redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
else
	redis.call('HSET', jk, 'status', 'waiting')
	redis.call('ZADD', KEYS[2], fmtnum(waitingScore(ARGV[4], ARGV[1], ARGV[3])), ARGV[1])
end
return 1
`)

// KEYS: active, waiting, failed, prio
// ARGV: cutoffMs, maxStalled, nowMs, keepFailed, jobPrefix, stalledMsg, exhaustedMsg
// Sweeps active jobs acquired at or before the cutoff. Each reclaim consumes
// an attempt and a stall; jobs over either budget become terminally failed.
// Returns {requeued ids, failed ids}.
var scriptReclaimStalled = redis.NewScript(luaPrelude + `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local requeued = {}
local failed = {}
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	local jk = ARGV[5] .. id
	if redis.call('EXISTS', jk) == 1 then
		local st = redis.call('HINCRBY', jk, 'stalled', 1)
		local att = redis.call('HINCRBY', jk, 'attempts', 1)
		local maxatt = tonumber(redis.call('HGET', jk, 'max_attempts') or '1')
		redis.call('HSET', jk, 'acquired_at', '')
		if st > tonumber(ARGV[2]) then
			redis.call('HSET', jk, 'status', 'failed', 'error', ARGV[6], 'processed_at', ARGV[3])
			redis.call('ZADD', KEYS[3], ARGV[3], id)
			failed[#failed + 1] = id
		elseif att >= maxatt then
			redis.call('HSET', jk, 'status', 'failed', 'error', ARGV[7], 'processed_at', ARGV[3])
			redis.call('ZADD', KEYS[3], ARGV[3], id)
			failed[#failed + 1] = id
		else
			redis.call('HSET', jk, 'status', 'waiting')
			redis.call('ZADD', KEYS[2], fmtnum(waitingScore(ARGV[5], id, ARGV[3])), id)
			requeued[#requeued + 1] = id
		end
	end
end
if #failed > 0 then
	trimFinished(KEYS[3], KEYS[4], tonumber(ARGV[4]), ARGV[5])
end
return {requeued, failed}
`)

// KEYS: waiting, delayed, active, completed, failed, prio
// ARGV: id, payload, priority, status, attempts, maxAttempts, stalled,
//
//	createdMs, scheduledMs, acquiredMs, processedMs, result, errMsg, keep, jobPrefix
//
// Inserts an independent job record filed by its status. Returns 2 when the
// id already existed (record refreshed only), 1 on a fresh insert.
var scriptCopyJob = redis.NewScript(luaPrelude + `
local jk = ARGV[15] .. ARGV[1]
local fresh = redis.call('EXISTS', jk) == 0
redis.call('HSET', jk,
	'id', ARGV[1], 'payload', ARGV[2], 'priority', ARGV[3], 'status', ARGV[4],
	'attempts', ARGV[5], 'max_attempts', ARGV[6], 'stalled', ARGV[7],
	'created_at', ARGV[8], 'scheduled_at', ARGV[9],
	'acquired_at', ARGV[10], 'processed_at', ARGV[11],
	'result', ARGV[12], 'error', ARGV[13])
if not fresh then
	return 2
end
redis.call('HINCRBY', KEYS[6], ARGV[3], 1)
local status = ARGV[4]
local finished = tonumber(ARGV[11]) or tonumber(ARGV[8])
if status == 'delayed' then
	redis.call('ZADD', KEYS[2], ARGV[9], ARGV[1])
elseif status == 'active' then
	redis.call('ZADD', KEYS[3], fmtnum(tonumber(ARGV[10]) or tonumber(ARGV[8])), ARGV[1])
elseif status == 'completed' then
	redis.call('ZADD', KEYS[4], fmtnum(finished), ARGV[1])
	trimFinished(KEYS[4], KEYS[6], tonumber(ARGV[14]), ARGV[15])
elseif status == 'failed' then
	redis.call('ZADD', KEYS[5], fmtnum(finished), ARGV[1])
	trimFinished(KEYS[5], KEYS[6], tonumber(ARGV[14]), ARGV[15])
else
	redis.call('ZADD', KEYS[1], fmtnum((4 - tonumber(ARGV[3])) * 1e13 + tonumber(ARGV[8])), ARGV[1])
end
return 1
`)

// KEYS: job record key
// Returns -1 when the record is gone, otherwise the new attempt count.
var scriptIncrementAttempts = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

// KEYS: waiting
// ARGV: cutoffMs
// Walks the four priority bands of the waiting set. Returns {count of jobs
// enqueued at or before the cutoff, enqueue millis of the oldest waiting job
// or -1 when the set is empty}.
var scriptWaitingOlderThan = redis.NewScript(luaPrelude + `
local count = 0
local oldest = -1
for band = 0, 3 do
	local lo = band * 1e13
	count = count + redis.call('ZCOUNT', KEYS[1], fmtnum(lo), fmtnum(lo + tonumber(ARGV[1])))
	local first = redis.call('ZRANGEBYSCORE', KEYS[1], fmtnum(lo), fmtnum(lo + 1e13 - 1), 'WITHSCORES', 'LIMIT', 0, 1)
	if #first > 0 then
		local created = tonumber(first[2]) - lo
		if oldest < 0 or created < oldest then
			oldest = created
		end
	end
end
return {count, oldest}
`)
