package finance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/finance"
)

func TestWalletService_OpenAndProvision(t *testing.T) {
	// GIVEN: A parent without a wallet
	// WHEN: Opening one, then assigning the provider's account
	// THEN: A provisioning event is queued and the wallet resolves by account number

	w := newWorld(t)
	p := w.parent("p", finance.DistributionSpread)
	svc := finance.NewWalletService(w.store, nil)

	wallet, err := svc.OpenWallet(w.ctx, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, finance.DefaultCurrency, wallet.Currency)
	assert.False(t, wallet.IsProvisioned())

	_, err = svc.OpenWallet(w.ctx, p.ID, "")
	assert.ErrorIs(t, err, finance.ErrWalletExists)

	events, err := w.store.PendingEvents(w.ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, finance.EventWalletProvisioning, events[0].Kind)
	var payload finance.WalletProvisioningPayload
	require.NoError(t, events[0].Decode(&payload))
	assert.Equal(t, wallet.ID, payload.WalletID)
	assert.Equal(t, p.Email, payload.Email)

	updated, err := svc.AssignAccount(w.ctx, wallet.ID, finance.AccountDetails{
		CustomerCode: "CUS_123", AccountNumber: "0123456789", BankName: "Wema Bank",
	})
	require.NoError(t, err)
	assert.True(t, updated.IsProvisioned())

	byAccount, err := svc.Resolve(w.ctx, "", "", "0123456789")
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, byAccount.ID)

	byCode, err := svc.Resolve(w.ctx, "", "CUS_123", "")
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, byCode.ID)
}

func TestWalletService_ResolveFallsBackToAccountNumber(t *testing.T) {
	w := newWorld(t)
	p := w.parent("p", finance.DistributionSpread)
	svc := finance.NewWalletService(w.store, nil)
	wallet, err := svc.OpenWallet(w.ctx, p.ID, "NGN")
	require.NoError(t, err)
	_, err = svc.AssignAccount(w.ctx, wallet.ID, finance.AccountDetails{AccountNumber: "999"})
	require.NoError(t, err)

	found, err := svc.Resolve(w.ctx, "", "CUS_UNKNOWN", "999")
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, found.ID)

	_, err = svc.Resolve(w.ctx, "", "", "")
	assert.ErrorIs(t, err, finance.ErrWalletNotFound)
}

func TestWalletService_UnknownParent(t *testing.T) {
	w := newWorld(t)
	_, err := finance.NewWalletService(w.store, nil).OpenWallet(w.ctx, "ghost", "")
	assert.ErrorIs(t, err, finance.ErrEntityNotFound)
}
