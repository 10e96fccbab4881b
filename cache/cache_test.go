package cache

import (
	"context"
	"testing"
	"time"

	"github.com/use-agent/seibro/models"
)

var rng = models.TimeRange{FromDate: "20210101", ToDate: "20231231"}

func TestKey(t *testing.T) {
	a := models.EntityDescriptor{Keyword: "에이비씨 12CB", CompanyName: "에이비씨"}
	b := models.EntityDescriptor{Keyword: "에이비씨12", CompanyName: " 에이비씨 "}
	if Key(a, rng) != Key(b, rng) {
		t.Error("equivalent keywords should share a key")
	}
	other := models.TimeRange{FromDate: "20220101", ToDate: rng.ToDate}
	if Key(a, rng) == Key(a, other) {
		t.Error("different ranges must not share a key")
	}
}

func TestGetSet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, 10)
	e := models.EntityDescriptor{Keyword: "a", CompanyName: "b"}
	rows := []models.RowRecord{{Title: "b", Date: "2022/01/01"}}

	if _, ok := c.Get(e, rng, time.Hour); ok {
		t.Fatal("empty cache hit")
	}
	c.Set(e, rng, rows)
	rows[0].Title = "mutated"

	got, ok := c.Get(e, rng, time.Hour)
	if !ok || len(got) != 1 || got[0].Title != "b" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
	if _, ok := c.Get(e, rng, 0); ok {
		t.Error("maxAge 0 must skip the lookup")
	}
	time.Sleep(2 * time.Millisecond)
	if _, ok := c.Get(e, rng, time.Millisecond); ok {
		t.Error("stale entry returned")
	}
}

func TestCapacityAndEvict(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, 2)
	for _, kw := range []string{"a", "b", "c"} {
		c.Set(models.EntityDescriptor{Keyword: kw, CompanyName: kw}, rng, nil)
	}
	if c.Len() != 2 {
		t.Errorf("len = %d, want 2", c.Len())
	}
	c.evict(time.Now().Add(time.Second))
	if c.Len() != 0 {
		t.Errorf("len after evict = %d", c.Len())
	}
}
