package ledger

import (
	"fmt"
	"time"

	"github.com/ironmark/ledgerengine/clock"
	"github.com/ironmark/ledgerengine/money"
)

// AppendCustomerEntry writes one append-only customer-ledger row and
// returns the balance after the write. The running balance is computed
// from the current ledger SUM at insert time (not from the previous row's
// balance_after) so a missed or out-of-order write can never propagate a
// stale balance forward.
//
// The guest customer never receives a customer-ledger entry (I6); callers
// that charge or credit the guest customer should skip this call and, if
// cash changed hands, write a daily-ledger entry only.
func (m *Manager) AppendCustomerEntry(tx Querier, customerID int64, entryType EntryType, txType TransactionType,
	amount money.Money, refType string, refID int64, refNumber, description string, now time.Time) (CustomerLedgerEntry, error) {

	if customerID == GuestCustomerID {
		return CustomerLedgerEntry{}, fmt.Errorf("ledger: guest customer cannot receive ledger entries")
	}
	if entryType == Adjustment && !amount.IsZero() {
		return CustomerLedgerEntry{}, fmt.Errorf("ledger: adjustment entries must carry amount=0, got %s", amount)
	}

	before, err := m.sumLedger(tx, customerID)
	if err != nil {
		return CustomerLedgerEntry{}, err
	}

	after := before
	switch entryType {
	case Debit:
		after = before.Add(amount)
	case Credit:
		after = before.Sub(amount)
	case Adjustment:
		// amount is zero; after == before
	}

	res, err := tx.Exec(`INSERT INTO customer_ledger_entries
		(customer_id, entry_type, transaction_type, amount, balance_before, balance_after,
		 reference_type, reference_id, reference_number, description, created_at, created_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		customerID, string(entryType), string(txType), amount.String(), before.String(), after.String(),
		nullable(refType), refID, nullable(refNumber), description, clock.DateString(now), clock.TimeString(now))
	if err != nil {
		return CustomerLedgerEntry{}, fmt.Errorf("ledger: append customer entry: %w", err)
	}
	id, _ := res.LastInsertId()

	if _, err := tx.Exec(`UPDATE customers SET balance = ? WHERE id = ?`, after.String(), customerID); err != nil {
		return CustomerLedgerEntry{}, fmt.Errorf("ledger: update cached balance: %w", err)
	}
	if m.cache != nil {
		m.cache.Put(cacheKeyBalance(customerID), after)
	}

	return CustomerLedgerEntry{
		ID: id, CustomerID: customerID, EntryType: entryType, TransactionType: txType,
		Amount: amount, BalanceBefore: before, BalanceAfter: after,
		ReferenceType: refType, ReferenceID: refID, ReferenceNumber: refNumber, Description: description,
		CreatedAt: clock.DateString(now), CreatedTime: clock.TimeString(now),
	}, nil
}

// AppendAdjustment writes a zero-amount, reference-only customer-ledger
// row (e.g. "Applied Rs 100 to INV-04"). It never changes the balance.
func (m *Manager) AppendAdjustment(tx Querier, customerID int64, txType TransactionType,
	refType string, refID int64, refNumber, description string, now time.Time) (CustomerLedgerEntry, error) {
	return m.AppendCustomerEntry(tx, customerID, Adjustment, txType, money.Zero, refType, refID, refNumber, description, now)
}

// AppendDailyEntry writes one append-only daily/business-ledger row. Used
// for every actual movement of cash, regardless of customer.
func (m *Manager) AppendDailyEntry(tx Querier, entryType DailyEntryType, category string, amount money.Money,
	paymentMethod string, channelID *int64, refType string, refID int64, now time.Time) error {

	_, err := tx.Exec(`INSERT INTO daily_ledger_entries
		(entry_date, entry_time, type, category, amount, payment_method, payment_channel_id,
		 reference_type, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		clock.DateString(now), clock.TimeString(now), string(entryType), category, amount.String(),
		paymentMethod, channelID, nullable(refType), refID, clock.DateString(now))
	if err != nil {
		return fmt.Errorf("ledger: append daily entry: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
