package vesting

import (
	"bytes"
	"errors"
	"testing"
	"time"

	custodyerrors "vestvault/core/errors"
	"vestvault/core/events"
	"vestvault/core/state"
	"vestvault/native/common"
	"vestvault/storage"
)

const testReserveType = "team"

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) { r.events = append(r.events, e) }

func (r *recordingEmitter) last(eventType string) events.Event {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].EventType() == eventType {
			return r.events[i]
		}
	}
	return nil
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

type fixture struct {
	t           *testing.T
	mgr         *state.Manager
	engine      *Engine
	emitter     *recordingEmitter
	admin       [20]byte
	coAdmin     [20]byte
	beneficiary [20]byte
	mint        [20]byte
	now         int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	rec := &recordingEmitter{}
	mgr.SetEmitter(rec)

	f := &fixture{
		t:           t,
		mgr:         mgr,
		emitter:     rec,
		admin:       newTestAddress(0x01),
		coAdmin:     newTestAddress(0x04),
		beneficiary: newTestAddress(0x03),
		mint:        newTestAddress(0xB2),
		now:         time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC).Unix(),
	}
	if err := mgr.Update(func(txn *state.Txn) error {
		if err := txn.CreateMint(f.mint, 6, f.admin); err != nil {
			return err
		}
		for _, who := range [][20]byte{f.admin, f.coAdmin, f.beneficiary} {
			if err := txn.SetNativeBalance(who, 1_000_000_000_000); err != nil {
				return err
			}
		}
		ata, err := txn.CreateAssociatedTokenAccount(f.admin, f.admin, f.mint)
		if err != nil {
			return err
		}
		return txn.MintTo(f.mint, ata, f.admin, 1_000_000)
	}); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	auth, err := common.NewAuthority(f.admin, f.coAdmin)
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	f.engine = NewEngine(mgr, auth)
	f.engine.SetNowFunc(func() int64 { return f.now })
	return f
}

func (f *fixture) createAccount() *VestingAccount {
	f.t.Helper()
	account, err := f.engine.CreateVestingAccount(f.admin, testReserveType, f.mint)
	if err != nil {
		f.t.Fatalf("create vesting account: %v", err)
	}
	return account
}

func (f *fixture) createReserve(params ReserveParams) *ReserveAccount {
	f.t.Helper()
	reserve, err := f.engine.CreateReserve(f.admin, testReserveType, params)
	if err != nil {
		f.t.Fatalf("create reserve: %v", err)
	}
	return reserve
}

func (f *fixture) schedule(total, cliff, monthly, length int64) ReserveParams {
	return ReserveParams{
		Beneficiary:  f.beneficiary,
		StartTime:    f.now,
		EndTime:      f.now + length,
		TotalAmount:  total,
		CliffTime:    cliff,
		MonthlyClaim: monthly,
	}
}

func (f *fixture) tokenBalance(addr [20]byte) uint64 {
	f.t.Helper()
	var bal uint64
	if err := f.mgr.View(func(txn *state.Txn) error {
		var err error
		bal, err = txn.TokenBalance(addr)
		return err
	}); err != nil {
		f.t.Fatalf("token balance: %v", err)
	}
	return bal
}

func (f *fixture) walletBalance(owner [20]byte) uint64 {
	f.t.Helper()
	ata, err := state.AssociatedTokenAddress(owner, f.mint)
	if err != nil {
		f.t.Fatalf("ata: %v", err)
	}
	return f.tokenBalance(ata)
}

func (f *fixture) nativeBalance(who [20]byte) uint64 {
	f.t.Helper()
	var bal uint64
	if err := f.mgr.View(func(txn *state.Txn) error {
		var err error
		bal, err = txn.NativeBalance(who)
		return err
	}); err != nil {
		f.t.Fatalf("native balance: %v", err)
	}
	return bal
}

func TestCreateVestingAccount(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount()

	addr, bump, err := VestingAccountAddress(testReserveType)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if account.Address != addr || account.Bump != bump || account.Owner != f.admin {
		t.Fatalf("unexpected account %+v", account)
	}
	treasury, err := state.AssociatedTokenAddress(addr, f.mint)
	if err != nil || account.TreasuryTokenAccount != treasury {
		t.Fatalf("treasury should be the account's associated token account")
	}
	if f.nativeBalance(addr) != state.MinimumBalance(VestingAccountSpace) {
		t.Fatalf("vesting account should hold its storage deposit")
	}
	if _, err := f.engine.CreateVestingAccount(f.admin, testReserveType, f.mint); !errors.Is(err, custodyerrors.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if _, err := f.engine.CreateVestingAccount(f.beneficiary, "advisors", f.mint); !errors.Is(err, custodyerrors.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if _, err := f.engine.CreateVestingAccount(f.admin, "", f.mint); !errors.Is(err, custodyerrors.ErrInvalidArgument) {
		t.Fatalf("expected invalid label, got %v", err)
	}
	long := string(bytes.Repeat([]byte{'x'}, 33))
	if _, err := f.engine.CreateVestingAccount(f.admin, long, f.mint); !errors.Is(err, custodyerrors.ErrInvalidArgument) {
		t.Fatalf("expected unseedable label to fail, got %v", err)
	}
	if _, err := f.engine.CreateVestingAccount(f.admin, "advisors", newTestAddress(0xEE)); !errors.Is(err, custodyerrors.ErrNotFound) {
		t.Fatalf("expected unknown mint, got %v", err)
	}
	if f.emitter.last(events.TypeVestingAccountCreated) == nil {
		t.Fatalf("expected account creation event")
	}
}

func TestCreateReserveLocksTokens(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount()
	reserve := f.createReserve(f.schedule(300, 0, 100, 90*secondsPerDay))

	if f.tokenBalance(account.TreasuryTokenAccount) != 300 {
		t.Fatalf("treasury should hold the grant")
	}
	if f.walletBalance(f.admin) != 1_000_000-300 {
		t.Fatalf("grant should leave the admin wallet")
	}
	if f.nativeBalance(reserve.Address) != state.MinimumBalance(ReserveAccountSpace) {
		t.Fatalf("reserve should hold its storage deposit")
	}
	locked, ok := f.emitter.last(events.TypeTokensLocked).(events.TokensLocked)
	if !ok || locked.Amount != 300 || locked.LockedUntil != f.now || locked.Decimals != 6 {
		t.Fatalf("unexpected lock event %+v", locked)
	}
	stored, err := f.engine.Reserve(testReserveType, f.beneficiary)
	if err != nil {
		t.Fatalf("load reserve: %v", err)
	}
	if *stored != *reserve {
		t.Fatalf("stored reserve differs: %+v vs %+v", stored, reserve)
	}
}

func TestCreateReserveRejects(t *testing.T) {
	f := newFixture(t)
	f.createAccount()

	cases := []struct {
		name   string
		caller [20]byte
		params ReserveParams
		want   error
	}{
		{"non admin", f.beneficiary, f.schedule(100, 0, 10, 0), custodyerrors.ErrAccessDenied},
		{"admin but not owner", f.coAdmin, f.schedule(100, 0, 10, 0), custodyerrors.ErrAccessDenied},
		{"zero total", f.admin, f.schedule(0, 0, 10, 0), custodyerrors.ErrInvalidSchedule},
		{"negative cliff", f.admin, f.schedule(100, -1, 10, 0), custodyerrors.ErrInvalidSchedule},
		{"negative monthly", f.admin, f.schedule(100, 0, -10, 0), custodyerrors.ErrInvalidSchedule},
		{"grant exceeds wallet", f.admin, f.schedule(2_000_000, 0, 10, 0), custodyerrors.ErrInsufficientTokens},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.engine.CreateReserve(tc.caller, testReserveType, tc.params); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if _, err := f.engine.CreateReserve(f.admin, "unknown", f.schedule(100, 0, 10, 0)); !errors.Is(err, custodyerrors.ErrNotFound) {
		t.Fatalf("expected missing vesting account, got %v", err)
	}
	f.createReserve(f.schedule(100, 0, 10, 0))
	if _, err := f.engine.CreateReserve(f.admin, testReserveType, f.schedule(100, 0, 10, 0)); !errors.Is(err, custodyerrors.ErrAlreadyExists) {
		t.Fatalf("expected duplicate reserve, got %v", err)
	}
	if f.walletBalance(f.admin) != 1_000_000-100 {
		t.Fatalf("failed reserves must not move tokens")
	}
}

func TestClaimScenario(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount()
	start := f.now
	f.createReserve(f.schedule(300, 0, 100, 90*secondsPerDay))

	f.now = start + 32*secondsPerDay
	result, err := f.engine.Claim(f.beneficiary, testReserveType)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if result.Claimed != 200 {
		t.Fatalf("expected 200 after one elapsed month, got %d", result.Claimed)
	}
	if want := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC).Unix(); result.NextClaimTime != want {
		t.Fatalf("expected next claim %d, got %d", want, result.NextClaimTime)
	}
	if _, err := f.engine.Claim(f.beneficiary, testReserveType); !errors.Is(err, custodyerrors.ErrClaimNotAvailableYet) {
		t.Fatalf("expected nothing to claim, got %v", err)
	}

	f.now = start + 64*secondsPerDay
	result, err = f.engine.Claim(f.beneficiary, testReserveType)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if result.Claimed != 100 {
		t.Fatalf("expected remaining 100, got %d", result.Claimed)
	}
	if f.walletBalance(f.beneficiary) != 300 || f.tokenBalance(account.TreasuryTokenAccount) != 0 {
		t.Fatalf("grant should have moved to the beneficiary")
	}
	reserve, err := f.engine.Reserve(testReserveType, f.beneficiary)
	if err != nil {
		t.Fatalf("load reserve: %v", err)
	}
	if reserve.AmountWithdrawn != 300 || ReserveStatus(reserve, f.now) != StatusFullyClaimed {
		t.Fatalf("unexpected reserve %+v", reserve)
	}
	claimed, ok := f.emitter.last(events.TypeTokensClaimed).(events.TokensClaimed)
	if !ok || claimed.ClaimedAmount != 100 || claimed.Beneficiary != f.beneficiary {
		t.Fatalf("unexpected claim event %+v", claimed)
	}
}

func TestClaimRespectsCliff(t *testing.T) {
	f := newFixture(t)
	f.createAccount()
	start := f.now
	f.createReserve(f.schedule(1_000, 7*secondsPerDay, 250, 365*secondsPerDay))

	f.now = start + 7*secondsPerDay - 1
	if _, err := f.engine.Claim(f.beneficiary, testReserveType); !errors.Is(err, custodyerrors.ErrCliffPeriodNotEnded) {
		t.Fatalf("expected cliff error, got %v", err)
	}
	f.now = start + 7*secondsPerDay
	result, err := f.engine.Claim(f.beneficiary, testReserveType)
	if err != nil {
		t.Fatalf("claim at cliff: %v", err)
	}
	if result.Claimed != 250 {
		t.Fatalf("expected first instalment at the cliff, got %d", result.Claimed)
	}
}

func TestWithdrawnNeverExceedsTotal(t *testing.T) {
	f := newFixture(t)
	f.createAccount()
	start := f.now
	f.createReserve(f.schedule(2_500, 0, 1_000, 365*secondsPerDay))

	var claimed int64
	for day := int64(0); day <= 200; day += 10 {
		f.now = start + day*secondsPerDay
		result, err := f.engine.Claim(f.beneficiary, testReserveType)
		switch {
		case errors.Is(err, custodyerrors.ErrClaimNotAvailableYet):
			continue
		case err != nil:
			t.Fatalf("claim on day %d: %v", day, err)
		}
		claimed += result.Claimed
		reserve, err := f.engine.Reserve(testReserveType, f.beneficiary)
		if err != nil {
			t.Fatalf("load reserve: %v", err)
		}
		if reserve.AmountWithdrawn != claimed || reserve.AmountWithdrawn > reserve.TotalAmount {
			t.Fatalf("withdrawn %d out of step with claimed %d", reserve.AmountWithdrawn, claimed)
		}
	}
	if claimed != 2_500 {
		t.Fatalf("expected the whole grant to vest, got %d", claimed)
	}
}

func TestClaimRequiresReserveAndUnpausedModule(t *testing.T) {
	f := newFixture(t)
	f.createAccount()
	f.createReserve(f.schedule(300, 0, 100, 0))

	if _, err := f.engine.Claim(newTestAddress(0x07), testReserveType); !errors.Is(err, custodyerrors.ErrNotFound) {
		t.Fatalf("expected no reserve for stranger, got %v", err)
	}
	if err := f.mgr.Update(func(txn *state.Txn) error {
		return txn.SetPaused(common.ModuleVesting, true)
	}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := f.engine.Claim(f.beneficiary, testReserveType); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if f.walletBalance(f.beneficiary) != 0 {
		t.Fatalf("paused claim must not move tokens")
	}
}

func TestCloseReserveAccount(t *testing.T) {
	f := newFixture(t)
	f.createAccount()
	start := f.now
	reserve := f.createReserve(f.schedule(300, 0, 100, 60*secondsPerDay))

	if _, err := f.engine.CloseReserveAccount(f.beneficiary, testReserveType); !errors.Is(err, custodyerrors.ErrVestingNotOver) {
		t.Fatalf("expected vesting not over, got %v", err)
	}
	f.now = start + 60*secondsPerDay
	if _, err := f.engine.CloseReserveAccount(f.beneficiary, testReserveType); !errors.Is(err, custodyerrors.ErrFundsRemaining) {
		t.Fatalf("expected funds remaining, got %v", err)
	}
	if _, err := f.engine.Claim(f.beneficiary, testReserveType); err != nil {
		t.Fatalf("claim: %v", err)
	}
	before := f.nativeBalance(f.beneficiary)
	refunded, err := f.engine.CloseReserveAccount(f.beneficiary, testReserveType)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if refunded != state.MinimumBalance(ReserveAccountSpace) {
		t.Fatalf("unexpected refund %d", refunded)
	}
	if f.nativeBalance(f.beneficiary) != before+refunded || f.nativeBalance(reserve.Address) != 0 {
		t.Fatalf("deposit should move to the beneficiary")
	}
	if _, err := f.engine.Reserve(testReserveType, f.beneficiary); !errors.Is(err, custodyerrors.ErrNotFound) {
		t.Fatalf("closed reserve should be gone, got %v", err)
	}
	if f.emitter.last(events.TypeReserveClosed) == nil {
		t.Fatalf("expected close event")
	}
}

func TestCloseFullyClaimedReserveBeforeEnd(t *testing.T) {
	f := newFixture(t)
	f.createAccount()
	start := f.now
	reserve := f.createReserve(f.schedule(300, 0, 300, 60*secondsPerDay))

	if _, err := f.engine.Claim(f.beneficiary, testReserveType); err != nil {
		t.Fatalf("claim: %v", err)
	}
	f.now = start + 60*secondsPerDay - 1
	if _, err := f.engine.CloseReserveAccount(f.beneficiary, testReserveType); !errors.Is(err, custodyerrors.ErrVestingNotOver) {
		t.Fatalf("expected vesting not over with nothing left to claim, got %v", err)
	}
	kept, err := f.engine.Reserve(testReserveType, f.beneficiary)
	if err != nil {
		t.Fatalf("reserve should survive a rejected close: %v", err)
	}
	if kept.AmountWithdrawn != kept.TotalAmount || f.nativeBalance(reserve.Address) == 0 {
		t.Fatalf("rejected close changed the reserve: withdrawn %d of %d", kept.AmountWithdrawn, kept.TotalAmount)
	}

	f.now = start + 60*secondsPerDay
	if _, err := f.engine.CloseReserveAccount(f.beneficiary, testReserveType); err != nil {
		t.Fatalf("close at end time: %v", err)
	}
}

func TestListReserves(t *testing.T) {
	f := newFixture(t)
	f.createAccount()
	f.createReserve(f.schedule(100, 0, 10, 0))
	second := f.schedule(200, 0, 20, 0)
	second.Beneficiary = newTestAddress(0x05)
	f.createReserve(second)

	var reserves []*ReserveAccount
	var accounts []*VestingAccount
	if err := f.mgr.View(func(txn *state.Txn) error {
		var err error
		if accounts, err = ListVestingAccounts(txn); err != nil {
			return err
		}
		reserves, err = ListReserves(txn)
		return err
	}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ReserveType != testReserveType {
		t.Fatalf("unexpected accounts %+v", accounts)
	}
	if len(reserves) != 2 {
		t.Fatalf("expected two reserves, got %d", len(reserves))
	}
	var total int64
	for _, r := range reserves {
		addr, _, err := ReserveAddress(r.VestingAccount, r.Beneficiary)
		if err != nil || addr != r.Address {
			t.Fatalf("listed reserve address mismatch")
		}
		total += r.TotalAmount
	}
	if total != 300 {
		t.Fatalf("unexpected total %d", total)
	}
}
