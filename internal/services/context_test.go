package services_test

import (
	"context"
	"testing"

	"curator/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithAssetID(ctx, "4f1c")
	ctx = services.WithSlot(ctx, 2)
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.AssetIDFromContext(ctx); !ok || id != "4f1c" {
		t.Fatalf("unexpected asset id: %v %v", id, ok)
	}
	if slot, ok := services.SlotFromContext(ctx); !ok || slot != 2 {
		t.Fatalf("unexpected slot: %v %v", slot, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankAssetIDPreservesContext(t *testing.T) {
	ctx := services.WithAssetID(context.Background(), "")
	if _, ok := services.AssetIDFromContext(ctx); ok {
		t.Fatal("expected no asset id value")
	}
	if _, ok := services.SlotFromContext(ctx); ok {
		t.Fatal("expected no slot value")
	}
}
