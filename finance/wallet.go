package finance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WalletService opens parent wallets and resolves them for incoming
// payments. Dedicated-account provisioning happens outside: opening a
// wallet queues an outbox event and the wallet works without an account
// number until the provider answers.
type WalletService struct {
	Store  TxStore
	Logger *zap.Logger
	Now    func() time.Time
}

func NewWalletService(store TxStore, logger *zap.Logger) *WalletService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletService{Store: store, Logger: logger.Named("wallet"), Now: time.Now}
}

// OpenWallet creates the parent's wallet and queues provisioning.
func (w *WalletService) OpenWallet(ctx context.Context, parentID ParentID, currency string) (Wallet, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	var wallet Wallet
	err := w.Store.WithTx(ctx, func(tx Store) error {
		parent, err := tx.GetParent(ctx, parentID)
		if err != nil {
			return err
		}
		if _, err := tx.WalletByParent(ctx, parentID); err == nil {
			return ErrWalletExists
		} else if !errors.Is(err, ErrEntityNotFound) {
			return err
		}

		wallet = Wallet{
			ID:          WalletID(uuid.NewString()),
			SchoolID:    parent.SchoolID,
			ParentID:    parent.ID,
			AccountName: parent.Name,
			Currency:    currency,
			IsActive:    true,
			CreatedAt:   w.Now().UTC(),
		}
		if err := tx.SaveWallet(ctx, wallet); err != nil {
			return err
		}

		event, err := NewOutboxEvent(EventWalletProvisioning, string(wallet.ID), WalletProvisioningPayload{
			WalletID: wallet.ID,
			ParentID: parent.ID,
			SchoolID: parent.SchoolID,
			Name:     parent.Name,
			Email:    parent.Email,
		}, w.Now())
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, event)
	})
	if err != nil {
		return Wallet{}, err
	}
	w.Logger.Info("wallet opened, provisioning queued",
		zap.String("wallet_id", string(wallet.ID)),
		zap.String("parent_id", string(parentID)))
	return wallet, nil
}

// AccountDetails is what the provider returns for a dedicated account.
type AccountDetails struct {
	CustomerCode  string
	AccountNumber string
	AccountName   string
	BankName      string
}

// AssignAccount stores provider account details on a wallet.
func (w *WalletService) AssignAccount(ctx context.Context, id WalletID, details AccountDetails) (Wallet, error) {
	var wallet Wallet
	err := w.Store.WithTx(ctx, func(tx Store) error {
		var err error
		wallet, err = tx.GetWallet(ctx, id)
		if err != nil {
			return err
		}
		if details.CustomerCode != "" {
			wallet.CustomerCode = details.CustomerCode
		}
		if details.AccountNumber != "" {
			number := details.AccountNumber
			wallet.AccountNumber = &number
		}
		if details.AccountName != "" {
			wallet.AccountName = details.AccountName
		}
		if details.BankName != "" {
			wallet.BankName = details.BankName
		}
		return tx.SaveWallet(ctx, wallet)
	})
	return wallet, err
}

// Resolve finds the wallet a gateway payment belongs to: by id, then by
// customer code, then by the receiving account number.
func (w *WalletService) Resolve(ctx context.Context, id WalletID, customerCode, accountNumber string) (Wallet, error) {
	if id != "" {
		return w.Store.GetWallet(ctx, id)
	}
	if customerCode != "" {
		wallet, err := w.Store.WalletByCustomerCode(ctx, customerCode)
		if err == nil || !errors.Is(err, ErrEntityNotFound) {
			return wallet, err
		}
	}
	if accountNumber != "" {
		return w.Store.WalletByAccountNumber(ctx, accountNumber)
	}
	return Wallet{}, ErrWalletNotFound
}
