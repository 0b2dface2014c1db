package storage_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/raichat/social/profile"
	"github.com/raichat/social/storage"
	"github.com/raichat/social/storage/mem"
	"github.com/raichat/social/storage/models"
)

func newManager(t *testing.T, profiles ...models.Profile) (*storage.Manager, *mem.Store) {
	t.Helper()
	store := mem.NewStore()
	for _, p := range profiles {
		if err := store.PutProfile(context.Background(), p); err != nil {
			t.Fatalf("seeding profile %s: %v", p.ID, err)
		}
	}
	return storage.NewManager(store, nil, nil), store
}

func TestFollowUpdatesCounter(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t, models.Profile{ID: "u1", DisplayName: "Alice"})

	count, err := manager.Follow(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	following, err := manager.IsFollowing(ctx, "u1", "u2")
	if err != nil || !following {
		t.Errorf("IsFollowing = (%v, %v), want true", following, err)
	}

	count, err = manager.Unfollow(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestFollowErrors(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t, models.Profile{ID: "u1"})

	if _, err := manager.Follow(ctx, "u1", "u1"); !errors.Is(err, storage.ErrSelfFollow) {
		t.Errorf("self follow: got %v, want ErrSelfFollow", err)
	}

	if _, err := manager.Follow(ctx, "u1", "u2"); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if _, err := manager.Follow(ctx, "u1", "u2"); !errors.Is(err, storage.ErrAlreadyFollowing) {
		t.Errorf("double follow: got %v, want ErrAlreadyFollowing", err)
	}

	// The failed duplicate must not have moved the counter.
	p, err := manager.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.FollowerCount != 1 {
		t.Errorf("count = %d, want 1 after duplicate follow", p.FollowerCount)
	}

	if _, err := manager.Unfollow(ctx, "u1", "u3"); !errors.Is(err, storage.ErrNotFollowing) {
		t.Errorf("unfollow without edge: got %v, want ErrNotFollowing", err)
	}
	p, _ = manager.GetProfile(ctx, "u1")
	if p.FollowerCount != 1 {
		t.Errorf("count = %d, want 1 after failed unfollow", p.FollowerCount)
	}

	// The self edge can never exist, so a self unfollow surfaces the
	// missing edge rather than the follow-time guard.
	if _, err := manager.Unfollow(ctx, "u1", "u1"); !errors.Is(err, storage.ErrNotFollowing) {
		t.Errorf("self unfollow: got %v, want ErrNotFollowing", err)
	}
}

func TestConcurrentFollowsConverge(t *testing.T) {
	ctx := context.Background()
	manager, store := newManager(t, models.Profile{ID: "u1"})

	const followers = 64
	var wg sync.WaitGroup
	wg.Add(followers)
	for i := 0; i < followers; i++ {
		go func(i int) {
			defer wg.Done()
			if _, err := manager.Follow(ctx, "u1", fmt.Sprintf("f%d", i)); err != nil {
				t.Errorf("follow f%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	p, err := manager.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	cardinality, err := store.CountFollowers(ctx, "u1")
	if err != nil {
		t.Fatalf("count edges: %v", err)
	}
	if p.FollowerCount != int64(followers) || cardinality != int64(followers) {
		t.Errorf("count = %d, edges = %d, want both %d", p.FollowerCount, cardinality, followers)
	}
}

func TestConcurrentFollowUnfollowConverge(t *testing.T) {
	ctx := context.Background()
	manager, store := newManager(t, models.Profile{ID: "u1"})

	const followers = 32
	var wg sync.WaitGroup
	for i := 0; i < followers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			follower := fmt.Sprintf("f%d", i)
			if _, err := manager.Follow(ctx, "u1", follower); err != nil {
				t.Errorf("follow %s: %v", follower, err)
				return
			}
			// Half the followers churn.
			if i%2 == 0 {
				if _, err := manager.Unfollow(ctx, "u1", follower); err != nil {
					t.Errorf("unfollow %s: %v", follower, err)
				}
			}
		}(i)
	}
	wg.Wait()

	p, err := manager.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	cardinality, err := store.CountFollowers(ctx, "u1")
	if err != nil {
		t.Fatalf("count edges: %v", err)
	}
	if p.FollowerCount != cardinality {
		t.Errorf("counter %d diverged from edge set %d", p.FollowerCount, cardinality)
	}
	if cardinality != followers/2 {
		t.Errorf("edges = %d, want %d", cardinality, followers/2)
	}
}

func TestTwoFollowersScenario(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t, models.Profile{ID: "u1"})

	for i := 1; i <= 5; i++ {
		if _, err := manager.Follow(ctx, "u1", fmt.Sprintf("f%d", i)); err != nil {
			t.Fatalf("seed follow: %v", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	for _, follower := range []string{"u9", "u10"} {
		go func(follower string) {
			defer wg.Done()
			if _, err := manager.Follow(ctx, "u1", follower); err != nil {
				t.Errorf("follow %s: %v", follower, err)
			}
		}(follower)
	}
	wg.Wait()

	p, err := manager.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.FollowerCount != 7 {
		t.Errorf("count = %d, want 7", p.FollowerCount)
	}
	for _, follower := range []string{"u9", "u10"} {
		following, err := manager.IsFollowing(ctx, "u1", follower)
		if err != nil || !following {
			t.Errorf("edge for %s missing (%v, %v)", follower, following, err)
		}
	}
}

func TestEditProfile(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t,
		models.Profile{ID: "u1", DisplayName: "Alice", Handle: "alice", Tier: models.TierVerified, IsPaidTier: true},
		models.Profile{ID: "u2", DisplayName: "Bob", Handle: "alice2"},
	)

	// Claiming u2's handle fails and leaves u1 untouched.
	_, err := manager.EditProfile(ctx, "u1", profile.Edit{
		DisplayName: "Alice", Handle: "alice2", Bio: "hi",
	})
	if !errors.Is(err, profile.ErrHandleTaken) {
		t.Fatalf("got %v, want ErrHandleTaken", err)
	}
	p, err := manager.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Handle != "alice" || p.Bio != "" {
		t.Errorf("profile changed after failed edit: %+v", p)
	}

	// A valid edit commits and resets the tier on name change.
	updated, err := manager.EditProfile(ctx, "u1", profile.Edit{
		DisplayName: "Alicia", Handle: "alicia", Bio: "hello",
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if updated.Tier != models.TierNone {
		t.Errorf("tier = %q, want reset to %q", updated.Tier, models.TierNone)
	}
	if updated.Bio != "hello" {
		t.Errorf("bio = %q, want %q", updated.Bio, "hello")
	}
}

// hookedStore wraps a Store and runs afterGet once right after the first
// successful GetProfile, simulating a writer landing inside the edit
// window between the read and the compare-and-swap.
type hookedStore struct {
	storage.Store
	once     sync.Once
	afterGet func()
	getCalls int32
}

func (h *hookedStore) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	p, err := h.Store.GetProfile(ctx, id)
	atomic.AddInt32(&h.getCalls, 1)
	if err == nil && h.afterGet != nil {
		h.once.Do(h.afterGet)
	}
	return p, err
}

func TestFollowDuringEditKeepsCounter(t *testing.T) {
	ctx := context.Background()
	store := mem.NewStore()
	hooked := &hookedStore{Store: store}
	manager := storage.NewManager(hooked, nil, nil)

	if err := store.PutProfile(ctx, models.Profile{ID: "u1", DisplayName: "Alice", Handle: "alice"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := manager.Follow(ctx, "u1", fmt.Sprintf("f%d", i)); err != nil {
			t.Fatalf("seed follow: %v", err)
		}
	}

	hooked.afterGet = func() {
		if _, err := manager.Follow(ctx, "u1", "late"); err != nil {
			t.Errorf("follow inside edit window: %v", err)
		}
	}

	if _, err := manager.EditProfile(ctx, "u1", profile.Edit{DisplayName: "Alicia", Handle: "alice"}); err != nil {
		t.Fatalf("edit: %v", err)
	}

	p, err := manager.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	cardinality, err := store.CountFollowers(ctx, "u1")
	if err != nil {
		t.Fatalf("count edges: %v", err)
	}
	if p.FollowerCount != 6 || cardinality != 6 {
		t.Errorf("count = %d, edges = %d, want both 6", p.FollowerCount, cardinality)
	}
	if p.DisplayName != "Alicia" {
		t.Errorf("display name = %q, want %q", p.DisplayName, "Alicia")
	}
}

func TestEditRetriesAfterLostWrite(t *testing.T) {
	ctx := context.Background()
	store := mem.NewStore()
	hooked := &hookedStore{Store: store}
	manager := storage.NewManager(hooked, nil, nil)

	seed := models.Profile{ID: "u1", DisplayName: "Alice", Handle: "alice"}
	if err := store.PutProfile(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A rival edit commits between the read and the compare-and-swap, so
	// the first attempt loses and the cycle restarts.
	hooked.afterGet = func() {
		rival := seed
		rival.DisplayName = "Mallory"
		if err := store.PutProfileVersioned(ctx, rival, 0); err != nil {
			t.Errorf("rival edit: %v", err)
		}
	}

	updated, err := manager.EditProfile(ctx, "u1", profile.Edit{DisplayName: "Alicia", Handle: "alice"})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2 after one lost attempt", updated.Version)
	}
	if updated.DisplayName != "Alicia" {
		t.Errorf("display name = %q, want %q", updated.DisplayName, "Alicia")
	}
	if calls := atomic.LoadInt32(&hooked.getCalls); calls != 2 {
		t.Errorf("profile read %d times, want 2 (one retry)", calls)
	}
}

func TestConcurrentHandleClaim(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t,
		models.Profile{ID: "u1", DisplayName: "Alice", Handle: "alice"},
		models.Profile{ID: "u2", DisplayName: "Bob", Handle: "bob"},
	)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for _, id := range []string{"u1", "u2"} {
		go func(id string) {
			defer wg.Done()
			p, _ := manager.GetProfile(ctx, id)
			_, err := manager.EditProfile(ctx, id, profile.Edit{
				DisplayName: p.DisplayName,
				Handle:      "fresh",
			})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	var successes, taken int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, profile.ErrHandleTaken):
			taken++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 || taken != 1 {
		t.Errorf("successes = %d, taken = %d, want exactly one of each", successes, taken)
	}
}

func TestAuditRepairsDrift(t *testing.T) {
	ctx := context.Background()
	manager, store := newManager(t, models.Profile{ID: "u1", DisplayName: "Alice"})

	for i := 0; i < 3; i++ {
		if _, err := manager.Follow(ctx, "u1", fmt.Sprintf("f%d", i)); err != nil {
			t.Fatalf("follow: %v", err)
		}
	}

	// Inject drift behind the ledger's back.
	p, _ := store.GetProfile(ctx, "u1")
	p.FollowerCount = 9
	if err := store.PutProfile(ctx, p); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	repaired, err := manager.AuditFollowerCounts(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if repaired != 1 {
		t.Errorf("repaired = %d, want 1", repaired)
	}
	p, _ = manager.GetProfile(ctx, "u1")
	if p.FollowerCount != 3 {
		t.Errorf("count = %d, want 3 after repair", p.FollowerCount)
	}

	repaired, err = manager.AuditFollowerCounts(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if repaired != 0 {
		t.Errorf("repaired = %d on clean state, want 0", repaired)
	}
}

func TestPutSetting(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t)

	if err := manager.PutSetting(ctx, "u1", "premiumHighlight", true); err != nil {
		t.Fatalf("put setting: %v", err)
	}
	doc, err := manager.GetSettings(ctx, "u1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	want := `"premiumHighlight":true`
	if !strings.Contains(string(doc), want) {
		t.Errorf("doc = %s, want it to contain %s", doc, want)
	}
}
