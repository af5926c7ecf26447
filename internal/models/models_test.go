package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSaleFilterPaging(t *testing.T) {
	f := SaleFilter{}
	assert.Equal(t, 20, f.PageSize())
	assert.Equal(t, 1, f.PageNumber())
	assert.Equal(t, 0, f.Offset())

	f = SaleFilter{Page: 3, Limit: 50}
	assert.Equal(t, 50, f.PageSize())
	assert.Equal(t, 100, f.Offset())

	f = SaleFilter{Page: 2, Limit: 500}
	assert.Equal(t, 100, f.PageSize())
	assert.Equal(t, 100, f.Offset())
}

func TestValidPaymentMethod(t *testing.T) {
	assert.True(t, ValidPaymentMethod(PaymentMethodCash))
	assert.True(t, ValidPaymentMethod(PaymentMethodCard))
	assert.True(t, ValidPaymentMethod(PaymentMethodQRIS))
	assert.True(t, ValidPaymentMethod(PaymentMethodTransfer))
	assert.False(t, ValidPaymentMethod("check"))
	assert.False(t, ValidPaymentMethod(""))
}

func TestValidSyncStatus(t *testing.T) {
	assert.True(t, ValidSyncStatus(SyncStatusPending))
	assert.True(t, ValidSyncStatus(SyncStatusSynced))
	assert.True(t, ValidSyncStatus(SyncStatusFailed))
	assert.False(t, ValidSyncStatus("SYNCED"))
	assert.False(t, ValidSyncStatus("done"))
}

func TestTransientSyncErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &TransientSyncError{Err: cause}

	assert.ErrorIs(t, err, cause)

	var transient *TransientSyncError
	assert.True(t, errors.As(err, &transient))
	assert.Equal(t, 0, transient.StatusCode)
}

func TestStoreErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &StoreError{Op: "create sale", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "create sale")
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&ValidationError{Field: "items", Reason: "must not be empty"}).Error(), "items")
	assert.Contains(t, (&ConflictError{SaleNumber: "POS-20240101-ABC12345", Reason: "already recorded"}).Error(), "POS-20240101-ABC12345")
	assert.Contains(t, (&TerminalSyncError{StatusCode: 422, Reason: "unknown account"}).Error(), "422")
}
