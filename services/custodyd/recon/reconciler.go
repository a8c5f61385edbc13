package recon

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"vestvault/core/state"
	"vestvault/crypto"
	"vestvault/native/presale"
	"vestvault/native/vesting"
	"vestvault/observability"
	"vestvault/services/custodyd/storage"
)

// Row kinds.
const (
	KindVault    = "vault"
	KindTreasury = "treasury"
)

// Row statuses.
const (
	StatusBalanced  = "balanced"
	StatusSurplus   = "surplus"
	StatusShortfall = "shortfall"
)

// Viewer exposes read-only ledger snapshots.
type Viewer interface {
	View(fn func(*state.Txn) error) error
}

// PurchaseSource reports journaled purchase totals keyed by rendered vault
// address.
type PurchaseSource interface {
	PurchasesByVault(ctx context.Context) (map[string]storage.PurchaseTotals, error)
}

// Config wires a Reconciler.
type Config struct {
	State     Viewer
	Purchases PurchaseSource
	OutputDir string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Reconciler compares tracked custody obligations with actual token balances.
type Reconciler struct {
	state     Viewer
	purchases PurchaseSource
	outputDir string
	logger    *slog.Logger
	now       func() time.Time
}

// Row is one reconciled custody account. Tracked is what the ledger records
// say the account should hold; Actual is its token balance.
type Row struct {
	Kind          string
	Address       string
	TokenAccount  string
	Mint          string
	Label         string
	Tracked       uint64
	Actual        uint64
	Drift         int64
	Status        string
	PurchaseCount int64
	PurchasedUnit uint64
}

// Result summarises a run.
type Result struct {
	RunAt       time.Time
	Rows        []Row
	CSVPath     string
	ParquetPath string
}

// Mismatches returns the rows whose balance differs from the tracked amount.
func (r *Result) Mismatches() []Row {
	var out []Row
	for _, row := range r.Rows {
		if row.Status != StatusBalanced {
			out = append(out, row)
		}
	}
	return out
}

// NewReconciler builds a configured reconciler.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.State == nil {
		return nil, errors.New("recon: state is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		state:     cfg.State,
		purchases: cfg.Purchases,
		outputDir: cfg.OutputDir,
		logger:    logger,
		now:       now,
	}, nil
}

// Run reconciles every vault and vesting treasury. Reports are written when an
// output directory is configured.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	runAt := r.now().UTC()
	var rows []Row
	err := r.state.View(func(txn *state.Txn) error {
		vaultRows, err := reconcileVaults(txn)
		if err != nil {
			return err
		}
		treasuryRows, err := reconcileTreasuries(txn)
		if err != nil {
			return err
		}
		rows = append(vaultRows, treasuryRows...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recon: snapshot: %w", err)
	}

	if r.purchases != nil {
		totals, err := r.purchases.PurchasesByVault(ctx)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			if rows[i].Kind != KindVault {
				continue
			}
			if total, ok := totals[rows[i].Address]; ok {
				rows[i].PurchaseCount = total.Count
				rows[i].PurchasedUnit = total.Amount
			}
		}
	}

	var vaultDrift, treasuryDrift float64
	for _, row := range rows {
		drift := float64(row.Drift)
		if drift < 0 {
			drift = -drift
		}
		if row.Kind == KindVault {
			vaultDrift += drift
		} else {
			treasuryDrift += drift
		}
	}
	observability.Custody().SetReconDrift(KindVault, vaultDrift)
	observability.Custody().SetReconDrift(KindTreasury, treasuryDrift)

	result := &Result{RunAt: runAt, Rows: rows}
	if r.outputDir != "" {
		if err := r.writeReports(result); err != nil {
			return nil, err
		}
	}
	r.logger.Info("recon: run complete",
		slog.Int("rows", len(rows)),
		slog.Int("mismatches", len(result.Mismatches())),
		slog.Float64("vaultDrift", vaultDrift),
		slog.Float64("treasuryDrift", treasuryDrift),
	)
	return result, nil
}

// RunEvery reconciles on a fixed interval until ctx is cancelled.
func (r *Reconciler) RunEvery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("recon: interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Error("recon: run failed", slog.Any("error", err))
			}
		}
	}
}

func custody(raw [20]byte) string {
	return crypto.CustodyFromRaw(raw).String()
}

func newRow(kind string, addr, tokenAccount, mint [20]byte, label string, tracked, actual uint64) Row {
	row := Row{
		Kind:         kind,
		Address:      custody(addr),
		TokenAccount: custody(tokenAccount),
		Mint:         crypto.FromRaw(mint).String(),
		Label:        label,
		Tracked:      tracked,
		Actual:       actual,
		Status:       StatusBalanced,
	}
	switch {
	case actual > tracked:
		row.Status = StatusSurplus
		row.Drift = clampDrift(actual - tracked)
	case actual < tracked:
		row.Status = StatusShortfall
		row.Drift = -clampDrift(tracked - actual)
	}
	return row
}

func clampDrift(v uint64) int64 {
	if v > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(v)
}

func reconcileVaults(txn *state.Txn) ([]Row, error) {
	vaults, err := presale.ListVaults(txn)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(vaults))
	for _, vault := range vaults {
		balance, err := txn.TokenBalance(vault.VaultTokenAccount)
		if err != nil {
			return nil, err
		}
		label := strconv.FormatUint(vault.Index, 10)
		rows = append(rows, newRow(KindVault, vault.Address, vault.VaultTokenAccount, vault.TokenMint, label, vault.TotalTokens, balance))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Address < rows[j].Address })
	return rows, nil
}

func reconcileTreasuries(txn *state.Txn) ([]Row, error) {
	accounts, err := vesting.ListVestingAccounts(txn)
	if err != nil {
		return nil, err
	}
	reserves, err := vesting.ListReserves(txn)
	if err != nil {
		return nil, err
	}
	outstanding := make(map[[20]byte]uint64, len(accounts))
	for _, reserve := range reserves {
		owed := reserve.TotalAmount - reserve.AmountWithdrawn
		if owed > 0 {
			outstanding[reserve.VestingAccount] += uint64(owed)
		}
	}
	rows := make([]Row, 0, len(accounts))
	for _, account := range accounts {
		balance, err := txn.TokenBalance(account.TreasuryTokenAccount)
		if err != nil {
			return nil, err
		}
		rows = append(rows, newRow(KindTreasury, account.Address, account.TreasuryTokenAccount, account.Mint, account.ReserveType, outstanding[account.Address], balance))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Label < rows[j].Label })
	return rows, nil
}

func (r *Reconciler) writeReports(result *Result) error {
	runDir := filepath.Join(r.outputDir, result.RunAt.Format("20060102"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("recon: create output dir: %w", err)
	}
	base := "custody_" + result.RunAt.Format("150405")
	csvPath := filepath.Join(runDir, base+".csv")
	if err := writeCSV(csvPath, result.Rows); err != nil {
		return err
	}
	parquetPath := filepath.Join(runDir, base+".parquet")
	if err := writeParquet(parquetPath, result.Rows); err != nil {
		return err
	}
	r.logger.Info("recon: wrote reports", slog.String("csv", csvPath), slog.String("parquet", parquetPath))
	result.CSVPath = csvPath
	result.ParquetPath = parquetPath
	return nil
}

var csvHeader = []string{
	"kind", "address", "token_account", "mint", "label", "tracked", "actual", "drift", "status",
	"purchase_count", "purchased_units",
}

func writeCSV(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("recon: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Kind,
			row.Address,
			row.TokenAccount,
			row.Mint,
			row.Label,
			strconv.FormatUint(row.Tracked, 10),
			strconv.FormatUint(row.Actual, 10),
			strconv.FormatInt(row.Drift, 10),
			row.Status,
			strconv.FormatInt(row.PurchaseCount, 10),
			strconv.FormatUint(row.PurchasedUnit, 10),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("recon: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("recon: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	Kind           string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Address        string `parquet:"name=address, type=BYTE_ARRAY, convertedtype=UTF8"`
	TokenAccount   string `parquet:"name=token_account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Mint           string `parquet:"name=mint, type=BYTE_ARRAY, convertedtype=UTF8"`
	Label          string `parquet:"name=label, type=BYTE_ARRAY, convertedtype=UTF8"`
	Tracked        int64  `parquet:"name=tracked, type=INT64, convertedtype=UINT_64"`
	Actual         int64  `parquet:"name=actual, type=INT64, convertedtype=UINT_64"`
	Drift          int64  `parquet:"name=drift, type=INT64"`
	Status         string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	PurchaseCount  int64  `parquet:"name=purchase_count, type=INT64"`
	PurchasedUnits int64  `parquet:"name=purchased_units, type=INT64, convertedtype=UINT_64"`
}

func writeParquet(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			Kind:           row.Kind,
			Address:        row.Address,
			TokenAccount:   row.TokenAccount,
			Mint:           row.Mint,
			Label:          row.Label,
			Tracked:        int64(row.Tracked),
			Actual:         int64(row.Actual),
			Drift:          row.Drift,
			Status:         row.Status,
			PurchaseCount:  row.PurchaseCount,
			PurchasedUnits: int64(row.PurchasedUnit),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("recon: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("recon: close parquet file: %w", err)
	}
	return nil
}
