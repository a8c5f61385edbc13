package state

const (
	nsPaused = "paused"
	nsQuota  = "quota"
)

// SetPaused records the pause flag of a module.
func (t *Txn) SetPaused(module string, paused bool) error {
	return t.PutRecord(RecordKey(nsPaused, []byte(module)), paused)
}

// IsPaused reports whether module is paused. Unreadable flags count as paused.
func (t *Txn) IsPaused(module string) bool {
	var paused bool
	if _, err := t.GetRecord(RecordKey(nsPaused, []byte(module)), &paused); err != nil {
		return true
	}
	return paused
}

// QuotaUsage is the persisted per-identity usage counter of a module.
type QuotaUsage struct {
	EpochID uint64
	Used    uint64
}

func quotaKey(module string, addr [20]byte) []byte {
	id := make([]byte, 0, len(module)+1+len(addr))
	id = append(id, module...)
	id = append(id, ':')
	id = append(id, addr[:]...)
	return RecordKey(nsQuota, id)
}

// QuotaUsage loads the counter of addr for module.
func (t *Txn) QuotaUsage(module string, addr [20]byte) (QuotaUsage, error) {
	var usage QuotaUsage
	if _, err := t.GetRecord(quotaKey(module, addr), &usage); err != nil {
		return QuotaUsage{}, err
	}
	return usage, nil
}

// PutQuotaUsage stores the counter of addr for module.
func (t *Txn) PutQuotaUsage(module string, addr [20]byte, usage QuotaUsage) error {
	return t.PutRecord(quotaKey(module, addr), &usage)
}
