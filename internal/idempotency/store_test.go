package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestCreateIfNotExists_Get_MarkDone_MarkFailed(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "dispatch-intents", 48*time.Hour)

	ctx := context.Background()
	key := CycleKey("flow-1", time.Unix(1760000000, 0))
	flowID := "flow-1"

	created, err := s.CreateIfNotExists(ctx, key, flowID)
	if err != nil {
		t.Fatalf("CreateIfNotExists error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	// second create should return created=false (exists)
	created2, err := s.CreateIfNotExists(ctx, key, flowID)
	if err != nil {
		t.Fatalf("second CreateIfNotExists error: %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on duplicate create")
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record, got nil")
	}
	if rec.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", rec.Status)
	}
	if rec.FlowID != flowID {
		t.Fatalf("flow id mismatch")
	}
	if rec.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("expires_at must be in the future, got %d", rec.ExpiresAt)
	}

	err = s.MarkDone(ctx, key, `{"externalOrderId":"R-1"}`, 200)
	if err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}

	item := mock.table[key]
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusDone {
		t.Fatalf("status not updated to DONE, got %+v", item["status"])
	}
	if rb, ok := item["response_body"].(*types.AttributeValueMemberS); !ok || rb.Value != `{"externalOrderId":"R-1"}` {
		t.Fatalf("response_body not set correctly: %+v", item["response_body"])
	}

	err = s.MarkFailed(ctx, key, "partner returned 503")
	if err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	item2 := mock.table[key]
	if st, ok := item2["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusFailed {
		t.Fatalf("status not updated to FAILED, got %+v", item2["status"])
	}
	if n, ok := item2["note"].(*types.AttributeValueMemberS); !ok || n.Value != "partner returned 503" {
		t.Fatalf("note not set, got %+v", item2["note"])
	}
}

func TestReclaim(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "dispatch-intents", 48*time.Hour)
	ctx := context.Background()

	if _, err := s.CreateIfNotExists(ctx, "k1", "flow-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.MarkFailed(ctx, "k1", "timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// wrong expectation loses
	if err := s.Reclaim(ctx, "k1", StatusDone); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}

	if err := s.Reclaim(ctx, "k1", StatusFailed); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	rec, _ := s.Get(ctx, "k1")
	if rec.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS after reclaim, got %s", rec.Status)
	}
	if rec.Note != "" {
		t.Fatalf("note should be cleared, got %q", rec.Note)
	}
}

func TestCycleKey(t *testing.T) {
	due := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	if got := CycleKey("f1", due); got != "f1#1792400400" {
		t.Fatalf("unexpected key %s", got)
	}
	if CycleKey("f1", due) == CycleKey("f1", due.AddDate(0, 1, 0)) {
		t.Fatalf("different cycles must have different keys")
	}
}
