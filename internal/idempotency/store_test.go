package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jinkaiteo/QMS-sub001/model"
)

func testResponse() Response {
	return Response{
		Status: 201,
		Body:   json.RawMessage(`{"instance_id":"wf-1","status":"in_progress"}`),
	}
}

func TestMemoryCheckNotFound(t *testing.T) {
	store := NewMemoryStore()

	resp, found, err := store.Check(context.Background(), "qms:idem:POST:/workflows:k1", "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
	if resp != nil {
		t.Errorf("resp = %+v, want nil", resp)
	}
}

func TestMemoryRecordAndCheck(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := FormatKey("POST", "/workflows", "k1")
	hash := HashInput([]byte(`{"target_id":"doc-1"}`))

	if err := store.Record(ctx, key, hash, testResponse(), 5*time.Minute); err != nil {
		t.Fatalf("Record error: %v", err)
	}

	resp, found, err := store.Check(ctx, key, hash)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if resp.Status != 201 {
		t.Errorf("resp.Status = %d, want 201", resp.Status)
	}
	if string(resp.Body) != `{"instance_id":"wf-1","status":"in_progress"}` {
		t.Errorf("resp.Body = %s", resp.Body)
	}
}

func TestMemoryConflictOnHashMismatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := FormatKey("POST", "/workflows", "k1")

	if err := store.Record(ctx, key, "hash-abc", testResponse(), 5*time.Minute); err != nil {
		t.Fatalf("Record error: %v", err)
	}

	_, found, err := store.Check(ctx, key, "hash-xyz")
	if !found {
		t.Error("found = false, want true")
	}
	if !model.HasCode(err, model.ErrConflict) {
		t.Fatalf("Check error = %v, want CONFLICT", err)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := FormatKey("POST", "/workflows", "k1")

	if err := store.Record(ctx, key, "hash-abc", testResponse(), time.Millisecond); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, found, err := store.Check(ctx, key, "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false (expired)")
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0 (expired entry removed)", store.Len())
	}
}

func TestHashInputStable(t *testing.T) {
	a := HashInput([]byte(`{"x":1}`))
	b := HashInput([]byte(`{"x":1}`))
	c := HashInput([]byte(`{"x":2}`))
	if a != b {
		t.Error("same payload should hash identically")
	}
	if a == c {
		t.Error("different payloads should hash differently")
	}
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisCheckNotFound(t *testing.T) {
	store := NewRedisStore(newTestRedis(t))

	resp, found, err := store.Check(context.Background(), "qms:idem:POST:/workflows:k1", "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
	if resp != nil {
		t.Errorf("resp = %+v, want nil", resp)
	}
}

func TestRedisRecordAndCheck(t *testing.T) {
	store := NewRedisStore(newTestRedis(t))
	ctx := context.Background()
	key := FormatKey("POST", "/workflows/wf-1/steps/s-1/complete", "k1")
	hash := HashInput([]byte(`{"action":"approve"}`))

	if err := store.Record(ctx, key, hash, testResponse(), 5*time.Minute); err != nil {
		t.Fatalf("Record error: %v", err)
	}

	resp, found, err := store.Check(ctx, key, hash)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if resp.Status != 201 {
		t.Errorf("resp.Status = %d, want 201", resp.Status)
	}
}

func TestRedisConflictOnHashMismatch(t *testing.T) {
	store := NewRedisStore(newTestRedis(t))
	ctx := context.Background()
	key := FormatKey("POST", "/workflows", "k1")

	if err := store.Record(ctx, key, "hash-abc", testResponse(), 5*time.Minute); err != nil {
		t.Fatalf("Record error: %v", err)
	}

	_, found, err := store.Check(ctx, key, "hash-xyz")
	if !found {
		t.Error("found = false, want true")
	}
	if !model.HasCode(err, model.ErrConflict) {
		t.Fatalf("Check error = %v, want CONFLICT", err)
	}
}
