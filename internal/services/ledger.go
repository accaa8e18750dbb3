package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Daneel-Li/clubpay/internal/dao"
	mxm "github.com/Daneel-Li/clubpay/internal/models"

	"github.com/shopspring/decimal"
)

// LedgerRef links a ledger row to the business record that caused it.
type LedgerRef struct {
	Type   string
	ID     uint
	Remark string
}

// Ledger is the only writer of ClubAccount and Transaction rows. Each call is
// one unit of work and joins the caller's unit when there is one; the account
// row is locked for the duration.
type Ledger struct {
	repo dao.Repository
	auth Authorizer
}

func NewLedger(repo dao.Repository, auth Authorizer) *Ledger {
	return &Ledger{repo: repo, auth: auth}
}

type posting struct {
	typ    mxm.TransactionType
	amount decimal.Decimal // signed change of balance
}

// mutate locks the account, lets apply change it, checks the invariants and
// persists the account together with one transaction row per posting.
func (l *Ledger) mutate(ctx context.Context, clubID uint, ref LedgerRef, apply func(a *mxm.ClubAccount) ([]posting, error)) (*mxm.ClubAccount, error) {
	var out *mxm.ClubAccount
	err := l.repo.Exec(ctx, func(ctx context.Context) error {
		acct, err := l.repo.LockAccount(ctx, clubID)
		if err != nil {
			return fmt.Errorf("lock account of club %d: %w", clubID, err)
		}
		before := acct.Balance

		postings, err := apply(acct)
		if err != nil {
			return err
		}
		if err := checkInvariants(acct); err != nil {
			return err
		}

		// the postings must explain the whole balance change
		running := before
		for _, p := range postings {
			running = running.Add(p.amount)
		}
		if !running.Equal(acct.Balance) {
			return fmt.Errorf("%w: club %d postings sum to %s, balance is %s", ErrInvariantViolation, clubID, running, acct.Balance)
		}

		if err := l.repo.SaveAccount(ctx, acct); err != nil {
			return fmt.Errorf("save account of club %d: %w", clubID, err)
		}
		running = before
		for _, p := range postings {
			row := &mxm.Transaction{
				AccountID:     acct.ID,
				ClubID:        clubID,
				Type:          p.typ,
				Amount:        p.amount,
				BalanceBefore: running,
				BalanceAfter:  running.Add(p.amount),
				RefType:       ref.Type,
				RefID:         ref.ID,
				Remark:        ref.Remark,
			}
			if err := l.repo.AppendTransaction(ctx, row); err != nil {
				return fmt.Errorf("append %s transaction: %w", p.typ, err)
			}
			running = row.BalanceAfter
		}
		out = acct
		return nil
	})
	return out, err
}

func checkInvariants(a *mxm.ClubAccount) error {
	switch {
	case a.Balance.IsNegative():
		return fmt.Errorf("%w: club %d balance %s < 0", ErrInvariantViolation, a.ClubID, a.Balance)
	case a.FrozenBalance.IsNegative():
		return fmt.Errorf("%w: club %d frozen %s < 0", ErrInvariantViolation, a.ClubID, a.FrozenBalance)
	case a.FrozenBalance.GreaterThan(a.Balance):
		return fmt.Errorf("%w: club %d frozen %s > balance %s", ErrInvariantViolation, a.ClubID, a.FrozenBalance, a.Balance)
	}
	return nil
}

func positive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid("amount %s must be positive", amount)
	}
	return nil
}

// PostSettlement credits the net proceeds of an activity and books the
// platform fee against them: an INCOME row for net, then a FEE row for -fee
// when the fee is not zero. The balance moves by net - fee.
func (l *Ledger) PostSettlement(ctx context.Context, clubID uint, net, fee decimal.Decimal, ref LedgerRef) (*mxm.ClubAccount, error) {
	if net.IsNegative() || fee.IsNegative() || fee.GreaterThan(net) {
		return nil, invalid("settlement net %s fee %s", net, fee)
	}
	return l.mutate(ctx, clubID, ref, func(a *mxm.ClubAccount) ([]posting, error) {
		var ps []posting
		if net.IsPositive() {
			ps = append(ps, posting{mxm.TransactionTypeIncome, net})
		}
		if fee.IsPositive() {
			ps = append(ps, posting{mxm.TransactionTypeFee, fee.Neg()})
		}
		settle := net.Sub(fee)
		a.Balance = a.Balance.Add(settle)
		a.TotalIncome = a.TotalIncome.Add(settle)
		return ps, nil
	})
}

// Freeze reserves amount for a pending withdrawal. The balance is unchanged
// and no transaction row is written.
func (l *Ledger) Freeze(ctx context.Context, clubID uint, amount decimal.Decimal) (*mxm.ClubAccount, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	return l.mutate(ctx, clubID, LedgerRef{}, func(a *mxm.ClubAccount) ([]posting, error) {
		if a.AvailableBalance().LessThan(amount) {
			return nil, invalid("available balance %s is less than %s", a.AvailableBalance(), amount)
		}
		a.FrozenBalance = a.FrozenBalance.Add(amount)
		return nil, nil
	})
}

// Unfreeze releases a reservation made by Freeze.
func (l *Ledger) Unfreeze(ctx context.Context, clubID uint, amount decimal.Decimal) (*mxm.ClubAccount, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	return l.mutate(ctx, clubID, LedgerRef{}, func(a *mxm.ClubAccount) ([]posting, error) {
		a.FrozenBalance = a.FrozenBalance.Sub(amount)
		return nil, nil
	})
}

// SettleWithdrawal pays out a frozen amount: balance and frozen both drop by
// amount, TotalWithdraw grows, and a WITHDRAWAL row is written.
func (l *Ledger) SettleWithdrawal(ctx context.Context, clubID uint, amount decimal.Decimal, ref LedgerRef) (*mxm.ClubAccount, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	return l.mutate(ctx, clubID, ref, func(a *mxm.ClubAccount) ([]posting, error) {
		a.Balance = a.Balance.Sub(amount)
		a.FrozenBalance = a.FrozenBalance.Sub(amount)
		a.TotalWithdraw = a.TotalWithdraw.Add(amount)
		return []posting{{mxm.TransactionTypeWithdrawal, amount.Neg()}}, nil
	})
}

type AccountDetail struct {
	ClubID           uint               `json:"club_id"`
	Balance          decimal.Decimal    `json:"balance"`
	FrozenBalance    decimal.Decimal    `json:"frozen_balance"`
	AvailableBalance decimal.Decimal    `json:"available_balance"`
	TotalIncome      decimal.Decimal    `json:"total_income"`
	TotalWithdraw    decimal.Decimal    `json:"total_withdraw"`
	Transactions     []*mxm.Transaction `json:"transactions"`
}

// GetAccountDetail returns the account figures and one page of recent
// transactions, newest first. A club without an account reads as all zeros.
func (l *Ledger) GetAccountDetail(ctx context.Context, userID, clubID uint, page, size int) (*AccountDetail, error) {
	if err := requireOperator(ctx, l.auth, userID, clubID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	detail := &AccountDetail{ClubID: clubID, Transactions: []*mxm.Transaction{}}
	acct, err := l.repo.GetAccount(ctx, clubID)
	if errors.Is(err, dao.ErrNotFound) {
		return detail, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account of club %d: %w", clubID, err)
	}
	detail.Balance = acct.Balance
	detail.FrozenBalance = acct.FrozenBalance
	detail.AvailableBalance = acct.AvailableBalance()
	detail.TotalIncome = acct.TotalIncome
	detail.TotalWithdraw = acct.TotalWithdraw

	rows, err := l.repo.ListTransactions(ctx, acct.ID, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("list transactions of club %d: %w", clubID, err)
	}
	if rows != nil {
		detail.Transactions = rows
	}
	return detail, nil
}

type ReconcileReport struct {
	ClubID           uint            `json:"club_id"`
	Balance          decimal.Decimal `json:"balance"`
	LastBalanceAfter decimal.Decimal `json:"last_balance_after"`
	Transactions     int             `json:"transactions"`
	Consistent       bool            `json:"consistent"`
	Problems         []string        `json:"problems,omitempty"`
}

// ReconcileAccount walks the transaction log in order and checks that the
// before/after chain is unbroken, that every row's amount equals its
// after minus before, and that the last balance matches the account.
func (l *Ledger) ReconcileAccount(ctx context.Context, userID, clubID uint) (*ReconcileReport, error) {
	if err := requireOperator(ctx, l.auth, userID, clubID); err != nil {
		if admin, aerr := l.auth.IsPlatformAdmin(ctx, userID); aerr != nil || !admin {
			return nil, err
		}
	}

	report := &ReconcileReport{ClubID: clubID, Consistent: true}
	acct, err := l.repo.GetAccount(ctx, clubID)
	if errors.Is(err, dao.ErrNotFound) {
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account of club %d: %w", clubID, err)
	}
	report.Balance = acct.Balance

	rows, err := l.repo.ListAllTransactions(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("list transactions of club %d: %w", clubID, err)
	}
	report.Transactions = len(rows)

	running := decimal.Zero
	for i, row := range rows {
		if !row.BalanceBefore.Equal(running) {
			report.Problems = append(report.Problems,
				fmt.Sprintf("row %d: balance_before %s, expected %s", row.ID, row.BalanceBefore, running))
		}
		if !row.BalanceBefore.Add(row.Amount).Equal(row.BalanceAfter) {
			report.Problems = append(report.Problems,
				fmt.Sprintf("row %d: %s + %s != %s", row.ID, row.BalanceBefore, row.Amount, row.BalanceAfter))
		}
		running = row.BalanceAfter
		if i == len(rows)-1 {
			report.LastBalanceAfter = row.BalanceAfter
		}
	}
	if !running.Equal(acct.Balance) {
		report.Problems = append(report.Problems,
			fmt.Sprintf("last balance_after %s != account balance %s", running, acct.Balance))
	}
	if acct.FrozenBalance.IsNegative() || acct.FrozenBalance.GreaterThan(acct.Balance) {
		report.Problems = append(report.Problems,
			fmt.Sprintf("frozen %s outside [0, %s]", acct.FrozenBalance, acct.Balance))
	}
	report.Consistent = len(report.Problems) == 0
	return report, nil
}
