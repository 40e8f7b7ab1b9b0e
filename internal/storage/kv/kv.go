// Package kv is the Redis-only backend: it implements every durable
// repository contract from internal/storage directly against Redis
// (hashes/sets/sorted-sets for indices, a JSON-encoded value per entity),
// plus the ephemeral-only contracts (liveness, active-participant counter,
// DLQ, broadcast results, message history) that the relational backend
// never needs to answer. It is the backend cmd/acnd selects when no
// relational DSN is configured (spec §4.1 "When no relational URL is
// configured, the Redis adapter also backs the five durable repositories").
//
// Key layout mirrors original_source/acn/infrastructure/persistence/redis/
// registry.py and task_repository.py: one string key per entity holding its
// JSON encoding, plus sets/sorted-sets for the secondary indices those
// files maintain by hand (acn:tasks:open, acn:tasks:by_creator:*, and so
// on). Entities are stored as a single JSON blob rather than exploded into
// per-field hash entries, because several fields (Skills, Metadata,
// SecuritySchemes, SubmissionArtifacts) are nested maps/slices that the
// original's per-field hash encoding handles with bespoke `json.dumps`
// calls per field — collapsing the whole struct to one JSON value keeps
// the same "hash holds the record" key shape without reinventing that
// per-field marshaling for every entity type.
package kv

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "acn:"

// Store wraps a go-redis client; every kv repository embeds it.
type Store struct {
	rdb *redis.Client
}

func newStore(rdb *redis.Client) Store { return Store{rdb: rdb} }

// Open dials Redis at addr (e.g. "localhost:6379") and verifies
// connectivity with a bounded Ping, mirroring the teacher's
// Open-then-Ping boot idiom (see internal/storage/relational.Open).
func Open(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}

func agentKey(id string) string         { return keyPrefix + "agent:" + id }
func agentsByEndpoint() string          { return keyPrefix + "agents:by_endpoint" }
func agentsByAPIKey() string            { return keyPrefix + "agents:by_apikey" }
func agentsAll() string                 { return keyPrefix + "agents:all" }
func agentsBySkill(skill string) string { return keyPrefix + "agents:by_skill:" + skill }
func agentsBySubnet(id string) string   { return keyPrefix + "agents:by_subnet:" + id }
func agentsByOwner(owner string) string { return keyPrefix + "agents:by_owner:" + owner }
func agentsByStatus(s string) string    { return keyPrefix + "agents:by_status:" + s }
func agentsByTokenID() string           { return keyPrefix + "agents:by_erc8004_id" }

func subnetKey(id string) string         { return keyPrefix + "subnet:" + id }
func subnetsByOwner(owner string) string { return keyPrefix + "subnets:by_owner:" + owner }
func subnetsAll() string                 { return keyPrefix + "subnets:all" }

func taskKey(id string) string              { return keyPrefix + "task:" + id }
func tasksOpen() string                     { return keyPrefix + "tasks:open" }
func tasksByCreator(id string) string       { return keyPrefix + "tasks:by_creator:" + id }
func tasksByAssignee(id string) string      { return keyPrefix + "tasks:by_assignee:" + id }
func tasksByStatus(s string) string         { return keyPrefix + "tasks:by_status:" + s }
func tasksBySkill(skill string) string      { return keyPrefix + "tasks:by_skill:" + skill }
func tasksAll() string                      { return keyPrefix + "tasks:all" }
func participationKey(id string) string     { return keyPrefix + "participation:" + id }
func participationsByTask(id string) string { return keyPrefix + "task:" + id + ":participations" }
func participationsByParticipant(id string) string {
	return keyPrefix + "participant:" + id + ":participations"
}

func activityKey(id string) string       { return keyPrefix + "activity:" + id }
func activitiesRecent() string           { return keyPrefix + "activities:recent" }
func activitiesByActor(id string) string { return keyPrefix + "activities:by_actor:" + id }
func activitiesByTask(id string) string  { return keyPrefix + "activities:by_task:" + id }

func auditKey(id string) string { return keyPrefix + "audit:" + id }
func auditRecent() string       { return keyPrefix + "audit:recent" }

func paymentTaskKey(id string) string     { return keyPrefix + "payment_task:" + id }
func paymentTasksByTask(id string) string { return keyPrefix + "payment_tasks:by_task:" + id }

func webhookDeliveryKey(id string) string      { return keyPrefix + "webhook_delivery:" + id }
func webhookDeliveriesByTask(id string) string { return keyPrefix + "webhook_deliveries:by_task:" + id }
func webhookDeliveriesRecent() string          { return keyPrefix + "webhook_deliveries:recent" }

func livenessKey(agentID string) string   { return keyPrefix + "liveness:" + agentID }
func activeCountKey(taskID string) string { return keyPrefix + "task:" + taskID + ":active_count" }

func dlqList() string              { return keyPrefix + "dlq" }
func dlqEntryKey(id string) string { return keyPrefix + "dlq:entry:" + id }

func broadcastResultKey(id string) string { return keyPrefix + "broadcast:" + id }

func messageHistoryKey(agentID string) string { return keyPrefix + "history:" + agentID }
