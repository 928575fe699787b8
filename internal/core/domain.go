package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Annual  BudgetKind = "annual"
	Monthly BudgetKind = "monthly"
	AdHoc   BudgetKind = "adhoc"
)

type (
	BudgetKind string

	Date struct {
		time.Time
	}

	// Budget groups line items of one planning period. CopyBudgetID points at
	// the source budget when the budget was produced by a clone; zero means
	// the budget was created directly.
	Budget struct {
		ID           int64
		CopyBudgetID int64
		Name         string
		Kind         BudgetKind
		Hidden       bool
	}

	// Category is a node in the per-kind category forest. ParentID refers to
	// the parent by id; zero marks a root. A category never owns its parent.
	Category struct {
		ID       int64
		Name     string
		Color    string
		Kind     BudgetKind
		ParentID int64
	}

	Item struct {
		ID         int64
		Name       string
		Kind       BudgetKind
		CategoryID int64
	}

	// Tag names are case-normalized on creation, see NormalizeTagName.
	Tag struct {
		ID   int64
		Name string
	}

	// BudgetItem is an Item's planned/actual tracking within one Budget.
	BudgetItem struct {
		ID       int64
		BudgetID int64
		ItemID   int64
		Note     string
		Planned  Money
	}

	// Transaction is a bank statement row or a manual entry. TransactedOn is
	// optional and zero when the statement did not carry it. Allocated is
	// maintained exclusively by ledger operations: true iff the sum of the
	// transaction's allocations equals Amount exactly.
	Transaction struct {
		ID           int64
		AccountID    int64
		PostedOn     Date
		TransactedOn Date
		Amount       Money
		Balance      Money
		Description  string
		ContentHash  string
		Allocated    bool
		Manual       bool
	}

	// Allocation links part or all of a Transaction's amount to one
	// BudgetItem. It is the only entity connecting the two sides of the
	// ledger.
	Allocation struct {
		ID            int64
		TransactionID int64
		BudgetItemID  int64
		Amount        Money
		Note          string
	}

	Account struct {
		ID         int64
		Name       string
		Number     string
		BranchCode string
		Bank       string
		TagColor   string
	}
)

var (
	ErrEmptyName          = errors.New("empty name")
	ErrInvalidKind        = errors.New("invalid budget kind")
	ErrZeroAllocation     = errors.New("allocation amount is zero")
	ErrSignMismatch       = errors.New("allocation sign does not match outstanding balance")
	ErrOverAllocation     = errors.New("allocation exceeds outstanding balance")
	ErrMixedSigns         = errors.New("transaction amounts have mixed signs")
	ErrEmptyBatch         = errors.New("empty batch")
	ErrNoTransferTarget   = errors.New("transfer target item is not in the budget")
	ErrAllocationsPresent = errors.New("entity has allocations referencing it")
	ErrNotFound           = errors.New("not found")
)

func (k BudgetKind) Validate() error {
	switch k {
	case Annual, Monthly, AdHoc:
		return nil
	}
	return ErrInvalidKind
}

// NewDate creates a Date at midnight UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// IsEmpty reports whether the date was never set (optional dates).
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

// NormalizeTagName lowercases and trims a tag name so that "Food" and
// " food " resolve to the same tag.
func NormalizeTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return ErrEmptyName
	}
	return b.Kind.Validate()
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	return c.Kind.Validate()
}

func (t Transaction) Validate() error {
	if t.PostedOn.IsZero() {
		return errors.New("posted date cannot be zero")
	}
	if strings.TrimSpace(t.Description) == "" {
		return errors.New("empty description")
	}
	if t.Amount.IsZero() {
		return errors.New("transaction amount is zero")
	}
	return nil
}

func (a Allocation) Validate() error {
	if a.TransactionID == 0 || a.BudgetItemID == 0 {
		return errors.New("allocation must reference a transaction and a budget item")
	}
	if a.Amount.IsZero() {
		return ErrZeroAllocation
	}
	return nil
}
