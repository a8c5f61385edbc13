package vesting

const (
	// MaxReserveTypeLength bounds the stored reserve-type label.
	MaxReserveTypeLength = 50

	// VestingAccountSpace is the serialized payload size used for the storage deposit.
	VestingAccountSpace = 159
	// ReserveAccountSpace is the serialized payload size used for the storage deposit.
	ReserveAccountSpace = 121
)

// VestingAccount is the namespace and treasury for one reserve type.
type VestingAccount struct {
	Address              [20]byte `rlp:"-"`
	Owner                [20]byte
	Mint                 [20]byte
	TreasuryTokenAccount [20]byte
	ReserveType          string
	Bump                 uint8
}

// ReserveAccount is a per-beneficiary vesting grant. All times are unix
// seconds and all amounts raw token units.
type ReserveAccount struct {
	Address         [20]byte
	Beneficiary     [20]byte
	StartTime       int64
	EndTime         int64
	TotalAmount     int64
	AmountWithdrawn int64
	CliffTime       int64
	MonthlyClaim    int64
	VestingAccount  [20]byte
	Bump            uint8
}

// reserveRecord is the persisted form of ReserveAccount; signed fields are
// stored as two's complement.
type reserveRecord struct {
	Beneficiary     [20]byte
	StartTime       uint64
	EndTime         uint64
	TotalAmount     uint64
	AmountWithdrawn uint64
	CliffTime       uint64
	MonthlyClaim    uint64
	VestingAccount  [20]byte
	Bump            uint8
}

func (r *ReserveAccount) record() *reserveRecord {
	return &reserveRecord{
		Beneficiary:     r.Beneficiary,
		StartTime:       uint64(r.StartTime),
		EndTime:         uint64(r.EndTime),
		TotalAmount:     uint64(r.TotalAmount),
		AmountWithdrawn: uint64(r.AmountWithdrawn),
		CliffTime:       uint64(r.CliffTime),
		MonthlyClaim:    uint64(r.MonthlyClaim),
		VestingAccount:  r.VestingAccount,
		Bump:            r.Bump,
	}
}

func (rec *reserveRecord) reserve(addr [20]byte) *ReserveAccount {
	return &ReserveAccount{
		Address:         addr,
		Beneficiary:     rec.Beneficiary,
		StartTime:       int64(rec.StartTime),
		EndTime:         int64(rec.EndTime),
		TotalAmount:     int64(rec.TotalAmount),
		AmountWithdrawn: int64(rec.AmountWithdrawn),
		CliffTime:       int64(rec.CliffTime),
		MonthlyClaim:    int64(rec.MonthlyClaim),
		VestingAccount:  rec.VestingAccount,
		Bump:            rec.Bump,
	}
}

// Status is the lifecycle stage of a reserve.
type Status string

const (
	StatusLocked       Status = "locked"
	StatusAccruing     Status = "accruing"
	StatusFullyClaimed Status = "fully_claimed"
	StatusClosed       Status = "closed"
)

// Accrual is the outcome of evaluating a reserve at a point in time.
type Accrual struct {
	VestingStart int64
	Periods      int64
	Claimable    int64
	NextClaim    int64
}

// ClaimResult describes a settled claim.
type ClaimResult struct {
	Reserve       [20]byte
	Beneficiary   [20]byte
	Claimed       int64
	NextClaimTime int64
	Decimals      uint8
}
