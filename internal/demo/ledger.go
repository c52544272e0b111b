package demo

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrGoalNotFound is returned when a contribution names an unknown goal.
	ErrGoalNotFound = errors.New("goal not found")
	// ErrAccountNotFound is returned when a transaction names an unknown account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientFunds is returned when the funding account cannot cover a contribution.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Account is one balance in the demo ledger.
type Account struct {
	ID      string
	Name    string
	Kind    string
	Balance decimal.Decimal
}

// Goal is a savings goal with a funding target.
type Goal struct {
	ID      string
	Name    string
	Target  decimal.Decimal
	Current decimal.Decimal
}

// Transaction is one ledger entry. Positive amounts are money leaving
// the account.
type Transaction struct {
	ID         string
	AccountID  string
	Amount     decimal.Decimal
	Category   string
	Note       string
	OccurredAt time.Time
}

// Ledger holds the demo backend's finances in memory. All methods are
// safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	accounts []Account
	goals    []Goal
	txns     []Transaction
	now      func() time.Time
}

// NewLedger builds a ledger seeded with plausible demo data.
func NewLedger() *Ledger {
	l := &Ledger{now: time.Now}
	l.accounts = []Account{
		{ID: "checking", Name: "Everyday Checking", Kind: "checking", Balance: dec("2450.10")},
		{ID: "savings", Name: "High-Yield Savings", Kind: "savings", Balance: dec("8000.00")},
		{ID: "credit-card", Name: "Rewards Card", Kind: "credit", Balance: dec("-430.55")},
	}
	l.goals = []Goal{
		{ID: "emergency-fund", Name: "Emergency Fund", Target: dec("10000.00"), Current: dec("6500.00")},
		{ID: "vacation", Name: "Vacation", Target: dec("3000.00"), Current: dec("750.00")},
	}
	base := time.Date(2025, 5, 12, 9, 30, 0, 0, time.UTC)
	seed := []struct {
		amount   string
		category string
		note     string
	}{
		{"54.20", "groceries", "H Mart kimchi run"},
		{"120.00", "utilities", "electricity bill"},
		{"36.75", "dining", "café near work"},
		{"99.00", "subscriptions", "annual cloud storage"},
	}
	for i, s := range seed {
		l.txns = append(l.txns, Transaction{
			ID:         uuid.New().String(),
			AccountID:  "checking",
			Amount:     dec(s.amount),
			Category:   s.category,
			Note:       s.note,
			OccurredAt: base.Add(time.Duration(i) * 36 * time.Hour),
		})
	}
	return l
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Accounts returns a copy of all accounts.
func (l *Ledger) Accounts() []Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Account, len(l.accounts))
	copy(out, l.accounts)
	return out
}

// Goals returns a copy of all goals.
func (l *Ledger) Goals() []Goal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Goal, len(l.goals))
	copy(out, l.goals)
	return out
}

// Transactions returns up to limit entries, newest first. limit <= 0
// means all.
func (l *Ledger) Transactions(limit int) []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transaction, len(l.txns))
	copy(out, l.txns)
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// NetWorth sums every account balance.
func (l *Ledger) NetWorth() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, a := range l.accounts {
		total = total.Add(a.Balance)
	}
	return total
}

// TotalSpend sums all recorded outflows.
func (l *Ledger) TotalSpend() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, t := range l.txns {
		if t.Amount.IsPositive() {
			total = total.Add(t.Amount)
		}
	}
	return total
}

// AddTransaction records an expense against an account and adjusts its
// balance.
func (l *Ledger) AddTransaction(accountID string, amount decimal.Decimal, category, note string) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i, a := range l.accounts {
		if a.ID == accountID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Transaction{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}

	txn := Transaction{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Amount:     amount,
		Category:   category,
		Note:       note,
		OccurredAt: l.now().UTC(),
	}
	l.accounts[idx].Balance = l.accounts[idx].Balance.Sub(amount)
	l.txns = append(l.txns, txn)
	return txn, nil
}

// ContributeToGoal moves money from checking into a goal.
func (l *Ledger) ContributeToGoal(goalID string, amount decimal.Decimal) (Goal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	gi := -1
	for i, g := range l.goals {
		if g.ID == goalID {
			gi = i
			break
		}
	}
	if gi < 0 {
		return Goal{}, fmt.Errorf("%w: %s", ErrGoalNotFound, goalID)
	}

	ai := -1
	for i, a := range l.accounts {
		if a.ID == "checking" {
			ai = i
			break
		}
	}
	if ai < 0 {
		return Goal{}, fmt.Errorf("%w: checking", ErrAccountNotFound)
	}
	if l.accounts[ai].Balance.LessThan(amount) {
		return Goal{}, fmt.Errorf("%w: checking holds $%s, need $%s",
			ErrInsufficientFunds, l.accounts[ai].Balance.StringFixed(2), amount.StringFixed(2))
	}

	l.accounts[ai].Balance = l.accounts[ai].Balance.Sub(amount)
	l.goals[gi].Current = l.goals[gi].Current.Add(amount)
	return l.goals[gi], nil
}
