package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"critline/fold"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "beacons.db"), time.Minute)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "critline.db")
	db, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database file at %s: %v", path, err)
	}
}

func TestSaveAndLatest(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, err := fold.ParseBeacon("oh=h1&n=a&cs=.a,.b")
	if err != nil {
		t.Fatalf("ParseBeacon: %v", err)
	}
	if _, err := db.Save(ctx, "http://s.test/", first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec, err := db.Latest(ctx, "http://s.test/", fold.KeyCriticalCSS)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if rec.OptionsHash != "h1" || len(rec.Data.CriticalSelectors) != 2 {
		t.Fatalf("record = %+v", rec)
	}

	second, _ := fold.ParseBeacon("oh=h2&n=b&cs=.c")
	if _, err := db.Save(ctx, "http://s.test/", second); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec, err = db.Latest(ctx, "http://s.test/", fold.KeyCriticalCSS)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if rec.OptionsHash != "h2" || rec.Nonce != "b" || rec.Data.CriticalSelectors[0] != ".c" {
		t.Fatalf("cache not invalidated, record = %+v", rec)
	}

	if n, err := db.Count(ctx); err != nil || n != 2 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}

func TestSaveOneRowPerKind(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	data, _ := fold.ParseBeacon("oh=h&ci=k1&xp=div%5B2%5D")
	recs, err := db.Save(ctx, "http://s.test/p", data)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(recs) != 2 || recs[0].Kind != fold.KeyCriticalImages || recs[1].Kind != fold.KeyXPaths {
		t.Fatalf("records = %+v", recs)
	}
	rec, err := db.Latest(ctx, "http://s.test/p", fold.KeyXPaths)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(rec.Data.XPathPairs) != 1 || rec.Data.XPathPairs[0].Start != "div[2]" || !rec.Data.HasXPaths {
		t.Fatalf("record data = %+v", rec.Data)
	}
}

func TestLatestNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Latest(context.Background(), "http://none.test/", fold.KeyCriticalCSS); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveEmptyBeacon(t *testing.T) {
	db := openTestDB(t)
	data, _ := fold.ParseBeacon("oh=h")
	if _, err := db.Save(context.Background(), "http://s.test/", data); !errors.Is(err, ErrEmptyBeacon) {
		t.Fatalf("err = %v, want ErrEmptyBeacon", err)
	}
}

func TestResultCacheExpiry(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	c := newResultCache(func() time.Time { return now }, time.Minute)
	c.Put(&Record{URL: "u", Kind: "cs"})
	if _, ok := c.Get("u", "cs"); !ok {
		t.Fatalf("fresh entry missing")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("u", "cs"); ok {
		t.Fatalf("expired entry returned")
	}
	c.Put(&Record{URL: "u", Kind: "ci"})
	c.Invalidate("u", "ci")
	if _, ok := c.Get("u", "ci"); ok {
		t.Fatalf("invalidated entry returned")
	}
}
