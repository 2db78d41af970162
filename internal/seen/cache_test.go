package seen

import (
	"fmt"
	"testing"
	"time"
)

func TestAddAndHas(t *testing.T) {
	c := New(10 * time.Second)
	id := "abcdefghijklmnop"

	if c.Has(id) {
		t.Fatal("fresh cache should not have id")
	}
	if !c.Add(id) {
		t.Fatal("first Add should return true (new)")
	}
	if !c.Has(id) {
		t.Fatal("should have id after Add")
	}
	if c.Add(id) {
		t.Fatal("second Add should return false (duplicate)")
	}
}

func TestExpiry(t *testing.T) {
	c := New(50 * time.Millisecond)
	c.Add("abcdefghijklmnop")

	if !c.Has("abcdefghijklmnop") {
		t.Fatal("should have id immediately after Add")
	}

	time.Sleep(100 * time.Millisecond)
	if c.Has("abcdefghijklmnop") {
		t.Fatal("id should have expired")
	}
}

func TestPruneDropsExpired(t *testing.T) {
	c := New(time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }
	for i := 0; i < 100; i++ {
		c.Add(fmt.Sprintf("peer%012d", i))
	}
	if n := c.Prune(); n != 100 {
		t.Fatalf("expected 100 live entries, got %d", n)
	}

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if n := c.Prune(); n != 0 {
		t.Fatalf("expected all entries pruned, got %d", n)
	}
	if c.Len() != 0 {
		t.Fatalf("Len after prune = %d", c.Len())
	}
}

func TestDifferentIDsIndependent(t *testing.T) {
	c := New(10 * time.Second)
	c.Add("aaaaaaaaaaaaaaaa")

	if !c.Has("aaaaaaaaaaaaaaaa") {
		t.Fatal("first id should be present")
	}
	if c.Has("bbbbbbbbbbbbbbbb") {
		t.Fatal("second id should not be present")
	}
}

func TestForget(t *testing.T) {
	c := New(10 * time.Second)
	c.Add("aaaaaaaaaaaaaaaa")
	c.Forget("aaaaaaaaaaaaaaaa")
	if c.Has("aaaaaaaaaaaaaaaa") {
		t.Fatal("forgotten id still present")
	}
}

func TestZeroExpiryDisables(t *testing.T) {
	c := New(0)
	if !c.Add("aaaaaaaaaaaaaaaa") {
		t.Fatal("Add should report new")
	}
	if c.Has("aaaaaaaaaaaaaaaa") {
		t.Fatal("disabled cache must not remember ids")
	}
}

func TestAddSweepsExpiredEntries(t *testing.T) {
	c := New(time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }
	for i := 0; i < 10000; i++ {
		c.Add(fmt.Sprintf("old%013d", i))
	}

	// Only fresh ids from now on; the old ones are never looked up again.
	c.now = func() time.Time { return base.Add(time.Hour) }
	const live = 10000
	for i := 0; i < live; i++ {
		c.Add(fmt.Sprintf("new%013d", i))
	}
	if n := c.Len(); n >= 2*live {
		t.Fatalf("cache holds %d entries for %d live ids", n, live)
	}
	if c.Has("old0000000000000") {
		t.Fatal("expired id still reported")
	}
	if n := c.Prune(); n != live {
		t.Fatalf("expected %d live entries, got %d", live, n)
	}
}
