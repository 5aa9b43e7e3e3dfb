package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/resonate-home/resonate/internal/services"
	"github.com/resonate-home/resonate/internal/testutil"
	"github.com/resonate-home/resonate/pkg/models"
)

// fakeInfoClient serves DeviceInformation per address and can simulate
// slow or failing devices.
type fakeInfoClient struct {
	mu     sync.Mutex
	byAddr map[string]*models.DeviceInformation
	fail   map[string]bool
	delay  time.Duration
	calls  int
}

func (f *fakeInfoClient) Info(_ context.Context, addr string) (*models.DeviceInformation, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail[addr] {
		return nil, errors.New("connection refused")
	}
	info, ok := f.byAddr[addr]
	if !ok {
		return nil, errors.New("no such device")
	}
	cp := *info
	return &cp, nil
}

// fakeResolver returns a fixed capability set or an error.
type fakeResolver struct {
	caps *models.CapabilitySet
	err  error
}

func (f *fakeResolver) Resolve(_ context.Context, _ string) (*models.CapabilitySet, error) {
	return f.caps, f.err
}

func newTestSyncer(t *testing.T, info InfoClient, caps CapabilityResolver, opts ...Option) (*Syncer, services.DeviceRepository) {
	t.Helper()
	store := testutil.NewMigratedStore(t, "registry", services.Migrations)
	repo := services.NewSQLiteDeviceRepository(store.DB())
	opts = append(opts, WithClock(func() time.Time {
		return time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	}))
	return New(repo, info, caps, testutil.Logger(), opts...), repo
}

func infoFor(id, name, addr string) *models.DeviceInformation {
	return &models.DeviceInformation{
		DeviceID: id,
		Name:     name,
		Model:    "SoundTouch 20",
		Interfaces: []models.NetworkInterface{
			{Kind: "SCM", MACAddress: id, IPAddress: addr},
		},
		FirmwareVersion: "27.0.6.46330",
	}
}

func TestSync_EmptyBatch(t *testing.T) {
	s, _ := newTestSyncer(t, &fakeInfoClient{}, nil)

	result := s.Sync(context.Background(), nil)
	if result.Discovered != 0 || result.Synced != 0 || result.Failed != 0 {
		t.Errorf("result = %+v, want all zeros", result)
	}
}

func TestSync_CountsAlwaysBalance(t *testing.T) {
	info := &fakeInfoClient{
		byAddr: map[string]*models.DeviceInformation{
			"192.168.1.10": infoFor("AAA111BBB222", "Kitchen", "192.168.1.10"),
			"192.168.1.11": infoFor("CCC333DDD444", "Bedroom", "192.168.1.11"),
		},
		fail: map[string]bool{"192.168.1.12": true},
	}
	s, _ := newTestSyncer(t, info, nil)

	batch := []models.DiscoveredDevice{
		{Address: "192.168.1.10", DeviceID: "AAA111BBB222"},
		{Address: "192.168.1.11", DeviceID: "CCC333DDD444"},
		{Address: "192.168.1.12", DeviceID: "EEE555FFF666"},
	}
	result := s.Sync(context.Background(), batch)

	if result.Discovered != len(batch) {
		t.Errorf("Discovered = %d, want %d", result.Discovered, len(batch))
	}
	if result.Synced+result.Failed != result.Discovered {
		t.Errorf("Synced(%d) + Failed(%d) != Discovered(%d)",
			result.Synced, result.Failed, result.Discovered)
	}
	if result.Synced != 2 || result.Failed != 1 {
		t.Errorf("result = %+v, want 2 synced / 1 failed", result)
	}
}

func TestSync_OneBadDeviceDoesNotAbortBatch(t *testing.T) {
	info := &fakeInfoClient{
		byAddr: map[string]*models.DeviceInformation{
			"192.168.1.10": infoFor("AAA111BBB222", "Kitchen", "192.168.1.10"),
		},
		fail: map[string]bool{"192.168.1.66": true},
	}
	s, repo := newTestSyncer(t, info, nil)

	result := s.Sync(context.Background(), []models.DiscoveredDevice{
		{Address: "192.168.1.66", DeviceID: "DEAD00000000"},
		{Address: "192.168.1.10", DeviceID: "AAA111BBB222"},
	})

	if result.Synced != 1 {
		t.Fatalf("Synced = %d, want 1", result.Synced)
	}
	if _, err := repo.GetByID(context.Background(), "AAA111BBB222"); err != nil {
		t.Errorf("healthy device missing from registry: %v", err)
	}
}

func TestSync_SecondRunUpdatesNotDuplicates(t *testing.T) {
	info := &fakeInfoClient{
		byAddr: map[string]*models.DeviceInformation{
			"192.168.1.10": infoFor("AAA111BBB222", "Kitchen", "192.168.1.10"),
		},
	}
	s, repo := newTestSyncer(t, info, nil)
	ctx := context.Background()
	batch := []models.DiscoveredDevice{{Address: "192.168.1.10", DeviceID: "AAA111BBB222"}}

	s.Sync(ctx, batch)

	// Device moved to a new DHCP lease between runs.
	info.mu.Lock()
	info.byAddr["192.168.1.10"] = infoFor("AAA111BBB222", "Kitchen", "192.168.1.99")
	info.mu.Unlock()

	s.Sync(ctx, batch)

	res, err := repo.List(ctx, services.DeviceFilter{}, services.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("registry records = %d, want 1", res.Total)
	}
	if res.Items[0].Address != "192.168.1.99" {
		t.Errorf("Address = %q, want refreshed 192.168.1.99", res.Items[0].Address)
	}
}

func TestSync_EmptyFieldsDoNotClobber(t *testing.T) {
	info := &fakeInfoClient{
		byAddr: map[string]*models.DeviceInformation{
			"192.168.1.10": infoFor("AAA111BBB222", "Kitchen", "192.168.1.10"),
		},
	}
	s, repo := newTestSyncer(t, info, nil)
	ctx := context.Background()
	batch := []models.DiscoveredDevice{{Address: "192.168.1.10", DeviceID: "AAA111BBB222"}}

	s.Sync(ctx, batch)

	// Second pass: the device answers with empty name and model (seen
	// during firmware updates). Known-good fields must survive.
	info.mu.Lock()
	info.byAddr["192.168.1.10"] = &models.DeviceInformation{
		DeviceID: "AAA111BBB222",
		Interfaces: []models.NetworkInterface{
			{IPAddress: "192.168.1.10"},
		},
	}
	info.mu.Unlock()

	s.Sync(ctx, batch)

	got, err := repo.GetByID(ctx, "AAA111BBB222")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "Kitchen" {
		t.Errorf("Name = %q, want preserved Kitchen", got.Name)
	}
	if got.Model != "SoundTouch 20" {
		t.Errorf("Model = %q, want preserved", got.Model)
	}
	if got.FirmwareVersion != "27.0.6.46330" {
		t.Errorf("FirmwareVersion = %q, want preserved", got.FirmwareVersion)
	}
}

func TestSync_CapabilitySnapshotStored(t *testing.T) {
	info := &fakeInfoClient{
		byAddr: map[string]*models.DeviceInformation{
			"192.168.1.10": infoFor("AAA111BBB222", "Kitchen", "192.168.1.10"),
		},
	}
	caps := &models.CapabilitySet{
		Endpoints:   map[string]bool{"/info": true, "/bass": true},
		BassControl: true,
	}
	s, repo := newTestSyncer(t, info, &fakeResolver{caps: caps})

	s.Sync(context.Background(), []models.DiscoveredDevice{
		{Address: "192.168.1.10", DeviceID: "AAA111BBB222"},
	})

	got, err := repo.GetByID(context.Background(), "AAA111BBB222")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Capabilities == nil || !got.Capabilities.BassControl {
		t.Errorf("Capabilities = %+v, want stored snapshot", got.Capabilities)
	}
}

func TestSync_CapabilityFailureKeepsPreviousSnapshot(t *testing.T) {
	info := &fakeInfoClient{
		byAddr: map[string]*models.DeviceInformation{
			"192.168.1.10": infoFor("AAA111BBB222", "Kitchen", "192.168.1.10"),
		},
	}
	store := testutil.NewMigratedStore(t, "registry", services.Migrations)
	repo := services.NewSQLiteDeviceRepository(store.DB())
	ctx := context.Background()

	// Seed a record that already has a capability snapshot.
	seeded := testutil.NewDevice(
		testutil.WithDeviceID("AAA111BBB222"),
		testutil.WithCapabilities(&models.CapabilitySet{
			Endpoints:   map[string]bool{"/bass": true},
			BassControl: true,
		}),
	)
	if err := repo.Upsert(ctx, &seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := New(repo, info, &fakeResolver{err: errors.New("manifest unreachable")}, testutil.Logger())
	result := s.Sync(ctx, []models.DiscoveredDevice{
		{Address: "192.168.1.10", DeviceID: "AAA111BBB222"},
	})

	if result.Synced != 1 {
		t.Fatalf("Synced = %d, want 1: capability failure is best-effort", result.Synced)
	}
	got, err := repo.GetByID(ctx, "AAA111BBB222")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Capabilities == nil || !got.Capabilities.BassControl {
		t.Error("previous capability snapshot lost after failed resolution")
	}
}

func TestSync_SameIdentifierSerialized(t *testing.T) {
	// Two batch entries resolving to the same identifier must not
	// interleave registry writes. With the keyed lock both complete and
	// exactly one record exists.
	info := &fakeInfoClient{
		byAddr: map[string]*models.DeviceInformation{
			"192.168.1.10": infoFor("AAA111BBB222", "Kitchen", "192.168.1.10"),
			"192.168.1.11": infoFor("AAA111BBB222", "Kitchen", "192.168.1.10"),
		},
		delay: 10 * time.Millisecond,
	}
	s, repo := newTestSyncer(t, info, nil)
	ctx := context.Background()

	result := s.Sync(ctx, []models.DiscoveredDevice{
		{Address: "192.168.1.10", DeviceID: "AAA111BBB222"},
		{Address: "192.168.1.11", DeviceID: "AAA111BBB222"},
	})

	if result.Synced != 2 {
		t.Fatalf("Synced = %d, want 2", result.Synced)
	}
	res, err := repo.List(ctx, services.DeviceFilter{}, services.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 1 {
		t.Errorf("registry records = %d, want 1", res.Total)
	}
}

func TestSync_ConcurrencyBounded(t *testing.T) {
	// 20 devices with concurrency 4: just assert the batch completes and
	// every device lands. Scheduling is unobservable beyond that.
	byAddr := make(map[string]*models.DeviceInformation)
	var batch []models.DiscoveredDevice
	for i := 0; i < 20; i++ {
		addr := fmt.Sprintf("10.0.0.%d", i+1)
		id := fmt.Sprintf("ID%04d", i+1)
		byAddr[addr] = &models.DeviceInformation{
			DeviceID:   id,
			Name:       "Speaker",
			Interfaces: []models.NetworkInterface{{IPAddress: addr}},
		}
		batch = append(batch, models.DiscoveredDevice{Address: addr, DeviceID: id})
	}
	s, repo := newTestSyncer(t, &fakeInfoClient{byAddr: byAddr}, nil, WithConcurrency(4))

	result := s.Sync(context.Background(), batch)
	if result.Synced != 20 {
		t.Fatalf("Synced = %d, want 20", result.Synced)
	}
	res, err := repo.List(context.Background(), services.DeviceFilter{}, services.ListOptions{Limit: 100})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 20 {
		t.Errorf("registry records = %d, want 20", res.Total)
	}
}

func TestMerge_Semantics(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	firstSeen := now.Add(-48 * time.Hour)

	existing := &models.Device{
		DeviceID:        "AAA111BBB222",
		Address:         "192.168.1.10",
		Name:            "Kitchen",
		Model:           "SoundTouch 20",
		FirmwareVersion: "27.0.5",
		FirstSeen:       firstSeen,
		LastSeen:        firstSeen,
	}
	info := &models.DeviceInformation{
		DeviceID:        "AAA111BBB222",
		Name:            "",
		Model:           "",
		FirmwareVersion: "27.0.6",
	}

	got := merge(existing, info, "192.168.1.99", nil, now)

	if got.Address != "192.168.1.99" {
		t.Errorf("Address = %q, want always-overwritten new address", got.Address)
	}
	if got.Name != "Kitchen" || got.Model != "SoundTouch 20" {
		t.Errorf("empty incoming fields clobbered name/model: %+v", got)
	}
	if got.FirmwareVersion != "27.0.6" {
		t.Errorf("FirmwareVersion = %q, want non-empty incoming value", got.FirmwareVersion)
	}
	if !got.FirstSeen.Equal(firstSeen) {
		t.Errorf("FirstSeen = %v, want preserved", got.FirstSeen)
	}
	if !got.LastSeen.Equal(now) {
		t.Errorf("LastSeen = %v, want refreshed", got.LastSeen)
	}
}

func TestKeyedMutex_DistinctKeysIndependent(t *testing.T) {
	var km keyedMutex

	unlockA := km.lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := km.lock("b") // must not block on a's lock
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on distinct key blocked")
	}
	unlockA()
}
