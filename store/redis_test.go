package store

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestRedisRepository creates a RedisRepository backed by a miniredis server.
func newTestRedisRepository(t *testing.T) (*RedisRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRepositoryWithClient(client, "test:"), mr
}

func TestRedisRepositoryContract(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) Repository {
		repo, _ := newTestRedisRepository(t)
		return repo
	})
}

func TestRedisRepositoryKeyLayout(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRedisRepository(t)

	def, err := repo.Create(ctx, sampleCreateInput("layout"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !mr.Exists("test:pipeline:" + def.ID) {
		t.Errorf("expected value key for %s", def.ID)
	}
	members, err := mr.Members("test:pipelines")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 1 || members[0] != def.ID {
		t.Errorf("unexpected id set %v", members)
	}

	if err := repo.Delete(ctx, def.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mr.Exists("test:pipeline:" + def.ID) {
		t.Error("value key must be removed")
	}
	if ok, _ := mr.SIsMember("test:pipelines", def.ID); ok {
		t.Error("id must be removed from the set")
	}
}

func TestRedisRepositorySkipsDanglingIDs(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRedisRepository(t)

	if _, err := repo.Create(ctx, sampleCreateInput("kept")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := mr.SAdd("test:pipelines", "ghost"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Name != "kept" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestRedisRepositoryCorruptValue(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRedisRepository(t)
	if err := mr.Set("test:pipeline:bad", "{"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_, err := repo.Get(ctx, "bad")
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if IsTransport(err) {
		t.Error("corrupt value must not count as a transport failure")
	}
}

func TestRedisRepositoryUnreachableIsTransport(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRedisRepository(t)
	mr.Close()

	_, err := repo.List(ctx)
	if err == nil {
		t.Fatal("expected an error from a stopped server")
	}
	if !IsTransport(err) {
		t.Errorf("expected transport classification, got %v", err)
	}
}
