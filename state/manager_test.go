package state

import (
	"bytes"
	"math/big"
	"testing"

	"stabolut/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func TestRoleLifecycle(t *testing.T) {
	m := newTestManager(t)
	addr := bytes.Repeat([]byte{0x01}, 20)
	other := bytes.Repeat([]byte{0x02}, 20)

	if m.HasRole("ROLE_USB_ADMIN", addr) {
		t.Fatalf("role present before grant")
	}
	if err := m.SetRole("ROLE_USB_ADMIN", addr); err != nil {
		t.Fatalf("set role: %v", err)
	}
	// Granting twice is a no-op.
	if err := m.SetRole("ROLE_USB_ADMIN", addr); err != nil {
		t.Fatalf("re-grant: %v", err)
	}
	if !m.HasRole("ROLE_USB_ADMIN", addr) {
		t.Fatalf("role missing after grant")
	}
	if m.HasRole("ROLE_USB_ADMIN", other) {
		t.Fatalf("role leaked to other address")
	}

	members, err := m.RoleMembers("ROLE_USB_ADMIN")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 || !bytes.Equal(members[0], addr) {
		t.Fatalf("unexpected members %v", members)
	}

	if err := m.UnsetRole("ROLE_USB_ADMIN", addr); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if m.HasRole("ROLE_USB_ADMIN", addr) {
		t.Fatalf("role present after revoke")
	}
	// Revoking a role the address does not hold is a no-op.
	if err := m.UnsetRole("ROLE_USB_ADMIN", addr); err != nil {
		t.Fatalf("double revoke: %v", err)
	}
}

func TestRoleValidation(t *testing.T) {
	m := newTestManager(t)
	if err := m.SetRole("  ", []byte{0x01}); err == nil {
		t.Fatalf("expected rejection of empty role")
	}
	if err := m.SetRole("ROLE_USB_ADMIN", nil); err == nil {
		t.Fatalf("expected rejection of empty address")
	}
	if m.HasRole("ROLE_USB_ADMIN", nil) {
		t.Fatalf("empty address should never hold a role")
	}
}

func TestBalanceStorage(t *testing.T) {
	m := newTestManager(t)
	addr := bytes.Repeat([]byte{0x03}, 20)

	balance, err := m.Balance(addr, "USB")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("default balance = %s, want 0", balance)
	}

	if err := m.SetBalance(addr, "usb", big.NewInt(1234)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	// Symbols are normalised, so the lowercase write is visible uppercase.
	balance, err = m.Balance(addr, "USB")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(1234)) != 0 {
		t.Fatalf("balance = %s, want 1234", balance)
	}

	if err := m.SetBalance(addr, "USB", big.NewInt(-1)); err == nil {
		t.Fatalf("expected rejection of negative balance")
	}
	if err := m.SetBalance(addr, "USB", nil); err != nil {
		t.Fatalf("nil amount should store zero: %v", err)
	}
	balance, err = m.Balance(addr, "USB")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("balance = %s after nil write, want 0", balance)
	}
}

type kvRecord struct {
	Name  string
	Value *big.Int
	Flag  bool
}

func TestKVRoundTrip(t *testing.T) {
	m := newTestManager(t)
	key := []byte("engine/params")

	var missing kvRecord
	ok, err := m.KVGet(key, &missing)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("unexpected hit for missing key")
	}

	stored := kvRecord{Name: "treasury", Value: big.NewInt(7000), Flag: true}
	if err := m.KVPut(key, &stored); err != nil {
		t.Fatalf("put: %v", err)
	}
	var loaded kvRecord
	ok, err = m.KVGet(key, &loaded)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("missing value after put")
	}
	if loaded.Name != stored.Name || loaded.Value.Cmp(stored.Value) != 0 || !loaded.Flag {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}

func TestKVAppendDeduplicates(t *testing.T) {
	m := newTestManager(t)
	key := []byte("engine/collateral/index")

	for _, symbol := range []string{"ETH", "WBTC", "ETH"} {
		if err := m.KVAppend(key, []byte(symbol)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %v, want 2 unique entries", list)
	}
}

func TestKVGetListInitialisesEmpty(t *testing.T) {
	m := newTestManager(t)
	var list [][]byte
	if err := m.KVGetList([]byte("missing"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("expected empty initialised slice, got %v", list)
	}
}
