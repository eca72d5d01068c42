package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/yllada/vpn-guard/common"
	"github.com/yllada/vpn-guard/killswitch"
	"github.com/yllada/vpn-guard/vpn"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)

	events := []common.ConnectionEvent{
		{From: common.StateDisconnected, To: common.StateConnecting, Profile: "wg-home"},
		{From: common.StateConnecting, To: common.StateConnected, Profile: "wg-home"},
		{From: common.StateConnected, To: common.StateDisconnecting, Profile: "wg-home", UserInitiated: true},
	}
	for _, ev := range events {
		if err := store.RecordConnection(ev); err != nil {
			t.Fatalf("RecordConnection() error = %v", err)
		}
	}

	entries, err := store.Recent(2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}

	// Newest first.
	want := []Entry{
		{Kind: KindConnection, From: "Connected", To: "Disconnecting...", Profile: "wg-home", Detail: "requested"},
		{Kind: KindConnection, From: "Connecting...", To: "Connected", Profile: "wg-home"},
	}
	ignore := cmpopts.IgnoreFields(Entry{}, "ID", "At")
	if diff := cmp.Diff(want, entries, ignore); diff != "" {
		t.Errorf("Recent(2) mismatch (-want +got):\n%s", diff)
	}
	if entries[0].At.IsZero() {
		t.Error("entry timestamp is zero")
	}
}

func TestRecordConnectionError(t *testing.T) {
	store := openTestStore(t)

	ev := common.ConnectionEvent{
		From: common.StateConnecting,
		To:   common.StateDisconnected,
		Err:  common.ErrConnectTimeout,
	}
	if err := store.RecordConnection(ev); err != nil {
		t.Fatalf("RecordConnection() error = %v", err)
	}

	entries, err := store.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Detail != common.ErrConnectTimeout.Error() {
		t.Errorf("detail = %q, want the timeout error text", entries[0].Detail)
	}
}

func TestRecordKillSwitch(t *testing.T) {
	store := openTestStore(t)

	change := killswitch.Change{
		OldMode:  killswitch.ModeOff,
		NewMode:  killswitch.ModeAuto,
		OldState: killswitch.StateDisabled,
		NewState: killswitch.StateArmed,
	}
	if err := store.RecordKillSwitch(change); err != nil {
		t.Fatalf("RecordKillSwitch() error = %v", err)
	}

	entries, err := store.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Kind != KindKillSwitch {
		t.Errorf("kind = %q, want killswitch", entries[0].Kind)
	}
	if entries[0].From != "Off/Disabled" || entries[0].To != "Auto/Armed" {
		t.Errorf("from/to = %q/%q, want Off/Disabled -> Auto/Armed", entries[0].From, entries[0].To)
	}
}

func TestRecentDefaultLimit(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 60; i++ {
		if err := store.RecordConnection(common.ConnectionEvent{
			From: common.StateDisconnected, To: common.StateConnecting,
		}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 50 {
		t.Errorf("Recent(0) returned %d entries, want the default 50", len(entries))
	}
}

func TestPrune(t *testing.T) {
	store := openTestStore(t)

	old := Entry{At: time.Now().Add(-48 * time.Hour), Kind: KindConnection, From: "a", To: "b"}
	fresh := Entry{At: time.Now(), Kind: KindConnection, From: "c", To: "d"}
	for _, e := range []Entry{old, fresh} {
		if err := store.append(e); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := store.Prune(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune() removed %d entries, want 1", removed)
	}

	entries, err := store.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].To != "d" {
		t.Errorf("entries after prune = %+v, want only the fresh one", entries)
	}
}

func TestOpenTwiceSameFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.RecordConnection(common.ConnectionEvent{
		From: common.StateDisconnected, To: common.StateConnecting, Profile: "x",
	}); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer second.Close()

	entries, err := second.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("entries after reopen = %d, want 1", len(entries))
	}
}

func TestAttach(t *testing.T) {
	store := openTestStore(t)
	bus := vpn.NewEventBus()
	Attach(bus, store)

	bus.Publish(vpn.Event{Type: vpn.EventStateChanged, Payload: vpn.StatePayload{
		Transition: common.ConnectionEvent{
			From:    common.StateDisconnected,
			To:      common.StateConnecting,
			Profile: "wg-home",
		},
	}})
	bus.Publish(vpn.Event{Type: vpn.EventKillSwitchChanged, Payload: vpn.KillSwitchPayload{
		Change: killswitch.Change{
			OldMode:  killswitch.ModeOff,
			NewMode:  killswitch.ModeAlwaysOn,
			OldState: killswitch.StateDisabled,
			NewState: killswitch.StateBlocking,
		},
	}})

	entries, err := store.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	kinds := map[Kind]bool{}
	for _, e := range entries {
		kinds[e.Kind] = true
	}
	if !kinds[KindConnection] || !kinds[KindKillSwitch] {
		t.Errorf("recorded kinds = %v, want both", kinds)
	}
}

func TestOpenBadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "no", "such", "dir", "history.db"))
	if err == nil {
		t.Error("Open() under a missing directory succeeded")
	}
}
