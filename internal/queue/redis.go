package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/felipemaragno/hookline/internal/clock"
)

// RedisConfig holds configuration for the Redis queue.
type RedisConfig struct {
	Prefix       string        // Key prefix (default: "hookline:queue:")
	LeaseTimeout time.Duration // Claim visibility timeout (default: DefaultLeaseTimeout)
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix:       "hookline:queue:",
		LeaseTimeout: DefaultLeaseTimeout,
	}
}

// Redis is a durable Queue. Each job is a hash; ids move between a waiting
// list, a delayed sorted set scored by due time, and an active sorted set
// scored by lease deadline. A claim whose lease expires returns to waiting,
// so a crashed worker's job is delivered again.
//
// Every state transition runs in a Lua script.
type Redis struct {
	client *redis.Client
	clock  clock.Clock
	prefix string
	lease  time.Duration
}

func NewRedis(client *redis.Client, clk clock.Clock, config RedisConfig) *Redis {
	if config.Prefix == "" {
		config.Prefix = "hookline:queue:"
	}
	if config.LeaseTimeout <= 0 {
		config.LeaseTimeout = DefaultLeaseTimeout
	}
	return &Redis{
		client: client,
		clock:  clk,
		prefix: config.Prefix,
		lease:  config.LeaseTimeout,
	}
}

func (q *Redis) jobKey(id string) string { return q.prefix + "job:" + id }
func (q *Redis) waitingKey() string      { return q.prefix + "waiting" }
func (q *Redis) delayedKey() string      { return q.prefix + "delayed" }
func (q *Redis) activeKey() string       { return q.prefix + "active" }
func (q *Redis) completedKey() string    { return q.prefix + "completed" }
func (q *Redis) failedKey() string       { return q.prefix + "failed" }
func (q *Redis) pausedKey() string       { return q.prefix + "paused" }

// enqueueScript stores the job hash and appends its id to waiting, unless
// the job already exists.
// KEYS[1] = job key, KEYS[2] = waiting
// ARGV = id, deliveryId, webhookId, maxAttempts, baseAttempt, enqueuedAt
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1],
    'id', ARGV[1],
    'deliveryId', ARGV[2],
    'webhookId', ARGV[3],
    'attempt', 0,
    'maxAttempts', ARGV[4],
    'baseAttempt', ARGV[5],
    'lastError', '',
    'enqueuedAt', ARGV[6],
    'claim', '')
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

// dequeueScript promotes due delayed jobs and expired leases, then claims
// the head of waiting and returns its hash. An expired lease drops its claim.
// KEYS[1] = waiting, KEYS[2] = delayed, KEYS[3] = active, KEYS[4] = paused
// ARGV[1] = now (ms), ARGV[2] = lease (ms), ARGV[3] = job key prefix, ARGV[4] = claim
var dequeueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[4]) == 1 then
    return false
end
local now = tonumber(ARGV[1])

local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now, 'LIMIT', 0, 100)
for _, id in ipairs(due) do
    redis.call('ZREM', KEYS[2], id)
    redis.call('RPUSH', KEYS[1], id)
end

local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now, 'LIMIT', 0, 100)
for _, id in ipairs(expired) do
    redis.call('ZREM', KEYS[3], id)
    if redis.call('EXISTS', ARGV[3] .. id) == 1 then
        redis.call('HSET', ARGV[3] .. id, 'claim', '')
    end
    redis.call('RPUSH', KEYS[1], id)
end

local id = redis.call('LPOP', KEYS[1])
while id do
    local key = ARGV[3] .. id
    if redis.call('EXISTS', key) == 1 then
        redis.call('HINCRBY', key, 'attempt', 1)
        redis.call('HSET', key, 'claim', ARGV[4])
        redis.call('ZADD', KEYS[3], now + tonumber(ARGV[2]), id)
        return redis.call('HGETALL', key)
    end
    id = redis.call('LPOP', KEYS[1])
end
return false
`)

// retryScript releases a claimed job to waiting or delayed. It returns 0
// when the job is gone and -1 when the claim is stale.
// KEYS[1] = job key, KEYS[2] = active, KEYS[3] = delayed, KEYS[4] = waiting
// ARGV[1] = id, ARGV[2] = due (ms), ARGV[3] = delay (ms), ARGV[4] = attempt,
// ARGV[5] = reason, ARGV[6] = claim
var retryScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
local claim = redis.call('HGET', KEYS[1], 'claim')
if not claim or claim == '' or claim ~= ARGV[6] then
    return -1
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'attempt', ARGV[4], 'lastError', ARGV[5], 'claim', '')
if tonumber(ARGV[3]) > 0 then
    redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
else
    redis.call('RPUSH', KEYS[4], ARGV[1])
end
return 1
`)

// finishScript removes a claimed job and bumps the completed or failed
// counter. Return values match retryScript.
// KEYS[1] = job key, KEYS[2] = active, KEYS[3] = counter
// ARGV[1] = id, ARGV[2] = claim
var finishScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
local claim = redis.call('HGET', KEYS[1], 'claim')
if not claim or claim == '' or claim ~= ARGV[2] then
    return -1
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[1])
redis.call('INCR', KEYS[3])
return 1
`)

// drainScript deletes waiting and delayed jobs.
// KEYS[1] = waiting, KEYS[2] = delayed
// ARGV[1] = job key prefix
var drainScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
for _, id in ipairs(redis.call('ZRANGE', KEYS[2], 0, -1)) do
    table.insert(ids, id)
end
for _, id in ipairs(ids) do
    redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1], KEYS[2])
return #ids
`)

func (q *Redis) Enqueue(ctx context.Context, job Job) (bool, error) {
	enqueuedAt := job.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = q.clock.Now()
	}

	res, err := enqueueScript.Run(ctx, q.client,
		[]string{q.jobKey(job.ID), q.waitingKey()},
		job.ID, job.DeliveryID, job.WebhookID, job.MaxAttempts, job.BaseAttempt, enqueuedAt.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return res == 1, nil
}

func (q *Redis) Dequeue(ctx context.Context) (*Job, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.waitingKey(), q.delayedKey(), q.activeKey(), q.pausedKey()},
		q.clock.Now().UnixMilli(), q.lease.Milliseconds(), q.prefix+"job:", uuid.NewString(),
	).StringSlice()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return parseJob(res)
}

func (q *Redis) Complete(ctx context.Context, job *Job) error {
	return q.finish(ctx, job, q.completedKey())
}

func (q *Redis) Fail(ctx context.Context, job *Job, reason string) error {
	return q.finish(ctx, job, q.failedKey())
}

func (q *Redis) finish(ctx context.Context, job *Job, counter string) error {
	res, err := finishScript.Run(ctx, q.client,
		[]string{q.jobKey(job.ID), q.activeKey(), counter},
		job.ID, job.Claim,
	).Int()
	if err != nil {
		return fmt.Errorf("finish job %s: %w", job.ID, err)
	}
	if res < 0 {
		return ErrClaimLost
	}
	return nil
}

func (q *Redis) Retry(ctx context.Context, job *Job, delay time.Duration, reason string) error {
	due := q.clock.Now().Add(delay)
	res, err := retryScript.Run(ctx, q.client,
		[]string{q.jobKey(job.ID), q.activeKey(), q.delayedKey(), q.waitingKey()},
		job.ID, due.UnixMilli(), delay.Milliseconds(), job.Attempt, reason, job.Claim,
	).Int()
	if err != nil {
		return fmt.Errorf("retry job %s: %w", job.ID, err)
	}
	if res < 0 {
		return ErrClaimLost
	}
	return nil
}

func (q *Redis) Counts(ctx context.Context) (Counts, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.waitingKey())
	active := pipe.ZCard(ctx, q.activeKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	completed := pipe.Get(ctx, q.completedKey())
	failed := pipe.Get(ctx, q.failedKey())
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Counts{}, fmt.Errorf("queue counts: %w", err)
	}

	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: counterVal(completed),
		Failed:    counterVal(failed),
	}, nil
}

func counterVal(cmd *redis.StringCmd) int64 {
	n, err := cmd.Int64()
	if err != nil {
		return 0
	}
	return n
}

func (q *Redis) Pause(ctx context.Context) error {
	return q.client.Set(ctx, q.pausedKey(), "1", 0).Err()
}

func (q *Redis) Resume(ctx context.Context) error {
	return q.client.Del(ctx, q.pausedKey()).Err()
}

func (q *Redis) Drain(ctx context.Context) error {
	err := drainScript.Run(ctx, q.client,
		[]string{q.waitingKey(), q.delayedKey()},
		q.prefix+"job:",
	).Err()
	if err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (q *Redis) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func parseJob(fields []string) (*Job, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("malformed job hash: %d fields", len(fields))
	}

	h := make(map[string]string, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		h[fields[i]] = fields[i+1]
	}

	job := &Job{
		ID:         h["id"],
		DeliveryID: h["deliveryId"],
		WebhookID:  h["webhookId"],
		LastError:  h["lastError"],
		Claim:      h["claim"],
	}
	var err error
	if job.Attempt, err = strconv.Atoi(h["attempt"]); err != nil {
		return nil, fmt.Errorf("job %s attempt: %w", job.ID, err)
	}
	if job.MaxAttempts, err = strconv.Atoi(h["maxAttempts"]); err != nil {
		return nil, fmt.Errorf("job %s maxAttempts: %w", job.ID, err)
	}
	if job.BaseAttempt, err = strconv.Atoi(h["baseAttempt"]); err != nil {
		return nil, fmt.Errorf("job %s baseAttempt: %w", job.ID, err)
	}
	ms, err := strconv.ParseInt(h["enqueuedAt"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("job %s enqueuedAt: %w", job.ID, err)
	}
	job.EnqueuedAt = time.UnixMilli(ms).UTC()
	return job, nil
}
