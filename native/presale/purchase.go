package presale

import (
	"context"
	"fmt"

	custodyerrors "vestvault/core/errors"
	"vestvault/core/events"
	"vestvault/core/state"
	"vestvault/native/common"
)

// Purchase sells amount raw token units from the vault to buyer. The payment is
// collected before the tokens are released; a failure at any step aborts the
// whole purchase.
func (e *Engine) Purchase(ctx context.Context, buyer, vaultAddr [20]byte, amount uint64) (*Receipt, error) {
	var receipt *Receipt
	err := e.update(func(st engineState) error {
		if err := common.Guard(st, common.ModulePresale); err != nil {
			return err
		}
		vault, quote, err := e.quote(ctx, st, vaultAddr, amount)
		if err != nil {
			return err
		}
		if err := e.consumeQuota(st, buyer, amount); err != nil {
			return err
		}
		if err := st.Pay(buyer, vault.Owner, quote.Payment); err != nil {
			return err
		}
		dest, err := st.CreateAssociatedTokenAccount(buyer, buyer, vault.TokenMint)
		if err != nil {
			return err
		}
		if err := custodialTransfer(st, vault, dest, amount); err != nil {
			return err
		}
		vault.TotalTokens -= amount
		if err := storeVault(st, vault); err != nil {
			return err
		}
		quote.Buyer = buyer
		st.Emit(events.TokensPurchased{
			Vault:       vaultAddr,
			Buyer:       buyer,
			Amount:      amount,
			Payment:     quote.Payment,
			OraclePrice: quote.Reading.Magnitude,
			OracleExpo:  quote.Reading.Exponent,
			PublishTime: quote.Reading.PublishTime,
			TotalTokens: vault.TotalTokens,
		})
		receipt = quote
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Quote computes the payment a purchase of amount would require without moving
// any funds.
func (e *Engine) Quote(ctx context.Context, vaultAddr [20]byte, amount uint64) (*Receipt, error) {
	var receipt *Receipt
	err := e.view(func(st engineState) error {
		_, quote, err := e.quote(ctx, st, vaultAddr, amount)
		receipt = quote
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (e *Engine) quote(ctx context.Context, st engineState, vaultAddr [20]byte, amount uint64) (*Vault, *Receipt, error) {
	vault, err := loadVault(st, vaultAddr)
	if err != nil {
		return nil, nil, err
	}
	mint, err := st.Mint(vault.TokenMint)
	if err != nil {
		return nil, nil, err
	}
	whole, err := WholeUnits(amount, mint.Decimals)
	if err != nil {
		return nil, nil, err
	}
	if whole > MaxWholeTokensPerPurchase {
		return nil, nil, fmt.Errorf("%w: %d whole tokens requested", custodyerrors.ErrLimitExceeded, whole)
	}
	if e.prices == nil {
		return nil, nil, fmt.Errorf("%w: no price reader configured", custodyerrors.ErrStalePrice)
	}
	reading, err := e.prices.ReadPrice(ctx, e.now())
	if err != nil {
		return nil, nil, err
	}
	if amount > vault.TotalTokens {
		return nil, nil, fmt.Errorf("%w: vault tracks %d, requested %d", custodyerrors.ErrInsufficientTokens, vault.TotalTokens, amount)
	}
	payment, err := PaymentAmount(amount, mint.Decimals, vault.PricePerToken, reading)
	if err != nil {
		return nil, nil, err
	}
	return vault, &Receipt{
		Vault:    vaultAddr,
		Tokens:   amount,
		Payment:  payment,
		Decimals: mint.Decimals,
		Reading:  reading,
	}, nil
}

func (e *Engine) consumeQuota(st engineState, buyer [20]byte, amount uint64) error {
	if !e.quota.Enabled() {
		return nil
	}
	usage, err := st.QuotaUsage(common.ModulePresale, buyer)
	if err != nil {
		return err
	}
	next, err := common.CheckQuota(e.quota, e.quota.EpochOf(e.now()), common.QuotaNow{Used: usage.Used, EpochID: usage.EpochID}, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", custodyerrors.ErrLimitExceeded, err)
	}
	return st.PutQuotaUsage(common.ModulePresale, buyer, state.QuotaUsage{EpochID: next.EpochID, Used: next.Used})
}
