package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "qianyu.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, path
}

func TestOpenAndMigrate(t *testing.T) {
	st, path := openTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := st.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestOpen_Reopen(t *testing.T) {
	st, path := openTestStore(t)
	ctx := context.Background()
	if _, err := st.RecordDelivery(ctx, Delivery{Platform: "bilibili", PostID: "1", ChannelID: "c", Status: StatusSent}); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = st.Close()

	st2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = st2.Close() }()

	got, err := st2.ListDeliveries(ctx, time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d deliveries after reopen, want 1", len(got))
	}
}

func TestOpen_NewerSchemaRejected(t *testing.T) {
	st, path := openTestStore(t)
	if _, err := st.db.Exec("UPDATE metadata SET value = '99' WHERE key = 'schema_version'"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = st.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected error for newer schema version")
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRecordDelivery(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)

	d, err := st.RecordDelivery(ctx, Delivery{
		Platform:    "bilibili",
		PostID:      "1050",
		Kind:        "video",
		PostURL:     "https://www.bilibili.com/opus/1050",
		ChannelID:   "123",
		MessageID:   "m1",
		Status:      StatusSent,
		DeliveredAt: at,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if d.ID == 0 {
		t.Error("expected id to be assigned")
	}

	got, err := st.ListDeliveries(ctx, at.Add(-time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(got))
	}
	g := got[0]
	if g.PostID != "1050" || g.Kind != "video" || g.MessageID != "m1" || g.PostURL != "https://www.bilibili.com/opus/1050" {
		t.Errorf("unexpected delivery: %+v", g)
	}
	if !g.DeliveredAt.Equal(at) {
		t.Errorf("delivered_at = %v, want %v", g.DeliveredAt, at)
	}
	if g.Error != "" {
		t.Errorf("error = %q, want empty", g.Error)
	}
}

func TestRecordDelivery_Defaults(t *testing.T) {
	st, _ := openTestStore(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	st.nowFn = func() time.Time { return now }

	d, err := st.RecordDelivery(context.Background(), Delivery{Platform: "twitter", PostID: "9", ChannelID: "c", Status: StatusFailed, Error: "403 Forbidden"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if d.Kind != "unknown" {
		t.Errorf("kind = %q, want unknown", d.Kind)
	}
	if !d.DeliveredAt.Equal(now) {
		t.Errorf("delivered_at = %v, want %v", d.DeliveredAt, now)
	}
}

func TestRecordDelivery_Validation(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		d    Delivery
	}{
		{"missing platform", Delivery{PostID: "1", ChannelID: "c", Status: StatusSent}},
		{"missing post id", Delivery{Platform: "p", ChannelID: "c", Status: StatusSent}},
		{"missing channel", Delivery{Platform: "p", PostID: "1", Status: StatusSent}},
		{"bad status", Delivery{Platform: "p", PostID: "1", ChannelID: "c", Status: "queued"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := st.RecordDelivery(ctx, tt.d); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestListDeliveries_Filters(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)

	seed := []Delivery{
		{Platform: "bilibili", PostID: "1", ChannelID: "a", Status: StatusSent, DeliveredAt: base.Add(1 * time.Hour)},
		{Platform: "bilibili", PostID: "1", ChannelID: "b", Status: StatusFailed, Error: "missing access", DeliveredAt: base.Add(1 * time.Hour)},
		{Platform: "twitter", PostID: "2", ChannelID: "a", Status: StatusSent, DeliveredAt: base.Add(2 * time.Hour)},
		{Platform: "twitter", PostID: "0", ChannelID: "a", Status: StatusSent, DeliveredAt: base.Add(-48 * time.Hour)},
	}
	for _, d := range seed {
		if _, err := st.RecordDelivery(ctx, d); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	all, err := st.ListDeliveries(ctx, base)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d deliveries since base, want 3", len(all))
	}
	if all[0].PostID != "2" {
		t.Errorf("expected newest first, got %s", all[0].PostID)
	}

	bili, err := st.ListDeliveries(ctx, base, DeliveryFilter{Platform: "bilibili"})
	if err != nil {
		t.Fatalf("list bilibili: %v", err)
	}
	if len(bili) != 2 {
		t.Errorf("got %d bilibili deliveries, want 2", len(bili))
	}

	failed, err := st.ListDeliveries(ctx, time.Time{}, DeliveryFilter{Status: StatusFailed})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Error != "missing access" {
		t.Errorf("unexpected failed deliveries: %+v", failed)
	}

	limited, err := st.ListDeliveries(ctx, time.Time{}, DeliveryFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("got %d deliveries with limit, want 2", len(limited))
	}
}

func TestStats(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)

	for _, d := range []Delivery{
		{Platform: "bilibili", PostID: "1", ChannelID: "a", Status: StatusSent, DeliveredAt: base.Add(time.Hour)},
		{Platform: "bilibili", PostID: "2", ChannelID: "a", Status: StatusSent, DeliveredAt: base.Add(3 * time.Hour)},
		{Platform: "bilibili", PostID: "2", ChannelID: "b", Status: StatusFailed, DeliveredAt: base.Add(3 * time.Hour)},
		{Platform: "rss", PostID: "x", ChannelID: "a", Status: StatusFailed, DeliveredAt: base.Add(time.Hour)},
	} {
		if _, err := st.RecordDelivery(ctx, d); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	stats, err := st.Stats(ctx, base)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d platforms, want 2", len(stats))
	}
	b := stats[0]
	if b.Platform != "bilibili" || b.Sent != 2 || b.Failed != 1 || !b.LastSent.Equal(base.Add(3*time.Hour)) {
		t.Errorf("unexpected bilibili stats: %+v", b)
	}
	r := stats[1]
	if r.Platform != "rss" || r.Sent != 0 || r.Failed != 1 || !r.LastSent.IsZero() {
		t.Errorf("unexpected rss stats: %+v", r)
	}
}

func TestPruneOld(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	st.nowFn = func() time.Time { return now }

	for i, age := range []time.Duration{time.Hour, 40 * 24 * time.Hour, 31 * 24 * time.Hour} {
		_, err := st.RecordDelivery(ctx, Delivery{
			Platform: "bilibili", PostID: string(rune('a' + i)), ChannelID: "c",
			Status: StatusSent, DeliveredAt: now.Add(-age),
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	n, err := st.PruneOld(ctx, 30)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}

	left, err := st.ListDeliveries(ctx, time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 1 || left[0].PostID != "a" {
		t.Errorf("unexpected remaining deliveries: %+v", left)
	}

	if n, _ := st.PruneOld(ctx, 0); n != 0 {
		t.Errorf("retain 0 pruned %d, want 0", n)
	}
}

func TestRecordDelivery_Concurrent(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.RecordDelivery(ctx, Delivery{Platform: "rss", PostID: string(rune('a' + i)), ChannelID: "c", Status: StatusSent})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent record: %v", err)
		}
	}

	got, err := st.ListDeliveries(ctx, time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 20 {
		t.Errorf("got %d deliveries, want 20", len(got))
	}
}

func TestNilStore(t *testing.T) {
	var st *Store
	if err := st.Close(); err != nil {
		t.Errorf("close nil: %v", err)
	}
	if _, err := st.RecordDelivery(context.Background(), Delivery{}); err == nil {
		t.Error("expected error from nil store")
	}
}
