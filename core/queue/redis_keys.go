package queue

const defaultKeyPrefix = "jobq"

// redisKeys builds the per-queue key layout:
//
//	<prefix>:<queue>:waiting    sorted set, score = priority band + enqueue millis
//	<prefix>:<queue>:delayed    sorted set, score = scheduled-at millis
//	<prefix>:<queue>:active     sorted set, score = acquired-at millis
//	<prefix>:<queue>:completed  sorted set, score = finished-at millis
//	<prefix>:<queue>:failed     sorted set, score = finished-at millis
//	<prefix>:<queue>:job:<id>   hash, full job record
//	<prefix>:<queue>:prio       hash, priority tier -> retained job count
//	<prefix>:<queue>:meta       hash, queue flags (paused)
type redisKeys struct {
	prefix string
}

func (k redisKeys) base(queueName string) string  { return k.prefix + ":" + queueName }
func (k redisKeys) waiting(q string) string       { return k.base(q) + ":waiting" }
func (k redisKeys) delayed(q string) string       { return k.base(q) + ":delayed" }
func (k redisKeys) active(q string) string        { return k.base(q) + ":active" }
func (k redisKeys) completed(q string) string     { return k.base(q) + ":completed" }
func (k redisKeys) failed(q string) string        { return k.base(q) + ":failed" }
func (k redisKeys) prio(q string) string          { return k.base(q) + ":prio" }
func (k redisKeys) meta(q string) string          { return k.base(q) + ":meta" }
func (k redisKeys) jobPrefix(q string) string     { return k.base(q) + ":job:" }
func (k redisKeys) job(q, jobID string) string    { return k.jobPrefix(q) + jobID }
func (k redisKeys) jobPattern(q string) string    { return k.jobPrefix(q) + "*" }
