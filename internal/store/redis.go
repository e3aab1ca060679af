package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	jsoncodec "github.com/drblury/taskflow/internal/runtime/jsoncodec"
)

// DefaultRedisPrefix namespaces keys when Options.Prefix is empty.
const DefaultRedisPrefix = "taskflow:"

// Redis keeps one hash per record:
//
//	<prefix>task:<id>   => HASH created_at, result, completed_at (unix nanos)
//	<prefix>task:seq    => INCR counter for record ids
//	<prefix>audit       => LIST of JSON entries, newest first
//	<prefix>audit:seq   => INCR counter for audit ids
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Store = (*Redis)(nil)

// commitScript sets the result only while completed_at is unset.
var commitScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
if redis.call("HEXISTS", KEYS[1], "completed_at") == 0 then
	redis.call("HSET", KEYS[1], "result", ARGV[1], "completed_at", ARGV[2])
end
return 1
`)

func openRedis(ctx context.Context, opts Options) (Store, error) {
	redisOpts, err := redis.ParseURL(opts.DSN)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedis(client, opts.Prefix), nil
}

// NewRedis takes ownership of client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) keyTask(id int64) string { return r.prefix + "task:" + strconv.FormatInt(id, 10) }
func (r *Redis) keyTaskSeq() string      { return r.prefix + "task:seq" }
func (r *Redis) keyAudit() string        { return r.prefix + "audit" }
func (r *Redis) keyAuditSeq() string     { return r.prefix + "audit:seq" }

func (r *Redis) Create(ctx context.Context) (WorkRecord, error) {
	id, err := r.client.Incr(ctx, r.keyTaskSeq()).Result()
	if err != nil {
		return WorkRecord{}, err
	}
	now := time.Now().UTC()
	if err := r.client.HSet(ctx, r.keyTask(id), "created_at", now.UnixNano()).Err(); err != nil {
		return WorkRecord{}, err
	}
	return WorkRecord{ID: id, CreatedAt: time.Unix(0, now.UnixNano()).UTC()}, nil
}

func (r *Redis) Find(ctx context.Context, id int64) (WorkRecord, error) {
	fields, err := r.client.HGetAll(ctx, r.keyTask(id)).Result()
	if err != nil {
		return WorkRecord{}, err
	}
	if len(fields) == 0 {
		return WorkRecord{}, notFound(id)
	}

	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return WorkRecord{}, err
	}
	rec := WorkRecord{ID: id, Result: fields["result"], CreatedAt: time.Unix(0, createdAt).UTC()}
	if raw, ok := fields["completed_at"]; ok {
		completedAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return WorkRecord{}, err
		}
		at := time.Unix(0, completedAt).UTC()
		rec.CompletedAt = &at
	}
	return rec, nil
}

func (r *Redis) Commit(ctx context.Context, id int64, result string, completedAt time.Time) (WorkRecord, error) {
	exists, err := commitScript.Run(ctx, r.client, []string{r.keyTask(id)}, result, completedAt.UnixNano()).Int()
	if err != nil {
		return WorkRecord{}, err
	}
	if exists == 0 {
		return WorkRecord{}, notFound(id)
	}
	return r.Find(ctx, id)
}

func (r *Redis) Append(ctx context.Context, message string) (AuditEntry, error) {
	id, err := r.client.Incr(ctx, r.keyAuditSeq()).Result()
	if err != nil {
		return AuditEntry{}, err
	}
	entry := AuditEntry{ID: id, Message: message, CreatedAt: time.Now().UTC()}
	encoded, err := jsoncodec.Marshal(entry)
	if err != nil {
		return AuditEntry{}, err
	}
	if err := r.client.LPush(ctx, r.keyAudit(), encoded).Err(); err != nil {
		return AuditEntry{}, err
	}
	return entry, nil
}

func (r *Redis) List(ctx context.Context, limit int) ([]AuditEntry, error) {
	raw, err := r.client.LRange(ctx, r.keyAudit(), 0, int64(normalizeLimit(limit)-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	entries := make([]AuditEntry, 0, len(raw))
	for _, item := range raw {
		var entry AuditEntry
		if err := jsoncodec.Unmarshal([]byte(item), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
