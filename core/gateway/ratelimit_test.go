package gateway

import "testing"

func TestTokenBucketBurstThenDeny(t *testing.T) {
	b := newTokenBucket(1, 3)
	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("expected burst token %d", i)
		}
	}
	if b.Allow() {
		t.Fatal("expected bucket exhausted")
	}
}

func TestTokenBucketNilAllows(t *testing.T) {
	var b *tokenBucket
	if !b.Allow() {
		t.Fatal("nil bucket must always allow")
	}
	if b := newTokenBucket(0, 0); !b.Allow() {
		t.Fatal("disabled bucket must always allow")
	}
}
