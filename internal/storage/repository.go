// Package storage implements the persistence collaborator of the ledger on
// SQLite. One repository serves both the ledger's Store port and the report
// service's read queries; RunAtomic hands out a transaction-bound view of
// the same repository.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/ledger"
	"bilancio/internal/report"

	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLiteRepository struct {
	db *sql.DB
	q  dbtx
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, q: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// RunAtomic implements ledger.Store. Nested calls reuse the enclosing
// transaction; SQLite gives no savepoint-free nesting, and batch operations
// never nest in practice.
func (r *SQLiteRepository) RunAtomic(ctx context.Context, fn func(ledger.Store) error) error {
	if _, alreadyInTx := r.q.(*sql.Tx); alreadyInTx {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	bound := &SQLiteRepository{db: r.db, q: tx}
	if err := fn(bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// --- budgets ---

func (r *SQLiteRepository) Budget(ctx context.Context, id int64) (core.Budget, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, copy_budget_id, name, kind, hidden FROM budgets WHERE id = ?`, id)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, fmt.Errorf("budget %d: %w", id, core.ErrNotFound)
	}
	return b, err
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, copy_budget_id, name, kind, hidden FROM budgets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) InsertBudget(ctx context.Context, b *core.Budget) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO budgets (copy_budget_id, name, kind, hidden) VALUES (?, ?, ?, ?)`,
		nullableID(b.CopyBudgetID), b.Name, string(b.Kind), b.Hidden)
	if err != nil {
		return fmt.Errorf("insert budget: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteRepository) SetBudgetHidden(ctx context.Context, id int64, hidden bool) error {
	_, err := r.q.ExecContext(ctx, `UPDATE budgets SET hidden = ? WHERE id = ?`, hidden, id)
	if err != nil {
		return fmt.Errorf("set budget %d hidden: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) RenameBudget(ctx context.Context, id int64, name string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE budgets SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("rename budget %d: %w", id, err)
	}
	return nil
}

// --- budget items ---

func (r *SQLiteRepository) BudgetItems(ctx context.Context, budgetID int64) ([]core.BudgetItem, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, budget_id, item_id, note, planned_cents FROM budget_items WHERE budget_id = ? ORDER BY id`,
		budgetID)
	if err != nil {
		return nil, fmt.Errorf("fetch budget items: %w", err)
	}
	defer rows.Close()

	var out []core.BudgetItem
	for rows.Next() {
		var bi core.BudgetItem
		if err := rows.Scan(&bi.ID, &bi.BudgetID, &bi.ItemID, &bi.Note, &bi.Planned.Cents); err != nil {
			return nil, fmt.Errorf("scan budget item: %w", err)
		}
		out = append(out, bi)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) BudgetItem(ctx context.Context, id int64) (core.BudgetItem, error) {
	var bi core.BudgetItem
	err := r.q.QueryRowContext(ctx,
		`SELECT id, budget_id, item_id, note, planned_cents FROM budget_items WHERE id = ?`, id).
		Scan(&bi.ID, &bi.BudgetID, &bi.ItemID, &bi.Note, &bi.Planned.Cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BudgetItem{}, fmt.Errorf("budget item %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.BudgetItem{}, fmt.Errorf("fetch budget item %d: %w", id, err)
	}
	return bi, nil
}

func (r *SQLiteRepository) InsertBudgetItem(ctx context.Context, bi *core.BudgetItem) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO budget_items (budget_id, item_id, note, planned_cents) VALUES (?, ?, ?, ?)`,
		bi.BudgetID, bi.ItemID, bi.Note, bi.Planned.Cents)
	if err != nil {
		return fmt.Errorf("insert budget item: %w", err)
	}
	bi.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteRepository) UpdateBudgetItemPlanned(ctx context.Context, id int64, planned core.Money) error {
	_, err := r.q.ExecContext(ctx, `UPDATE budget_items SET planned_cents = ? WHERE id = ?`, planned.Cents, id)
	if err != nil {
		return fmt.Errorf("update budget item %d planned: %w", id, err)
	}
	return nil
}

// --- transactions ---

func (r *SQLiteRepository) Transaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, account_id, posted_on, transacted_on, amount_cents, balance_cents,
		        description, content_hash, allocated, manual
		 FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	return tx, err
}

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx *core.Transaction) error {
	var transactedOn any
	if !tx.TransactedOn.IsEmpty() {
		transactedOn = tx.TransactedOn.Format(dateLayout)
	}
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO transactions
		   (account_id, posted_on, transacted_on, amount_cents, balance_cents,
		    description, content_hash, allocated, manual)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.AccountID, tx.PostedOn.Format(dateLayout), transactedOn,
		tx.Amount.Cents, tx.Balance.Cents, tx.Description, tx.ContentHash,
		tx.Allocated, tx.Manual)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	tx.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteRepository) SetTransactionAllocated(ctx context.Context, transactionID int64, allocated bool) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE transactions SET allocated = ? WHERE id = ?`, allocated, transactionID)
	if err != nil {
		return fmt.Errorf("set transaction %d allocated: %w", transactionID, err)
	}
	return nil
}

// HasTransactionWithHash reports whether a transaction with the given
// content hash already exists (duplicate detection on import and manual
// entry).
func (r *SQLiteRepository) HasTransactionWithHash(ctx context.Context, hash string) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE content_hash = ?`, hash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count transactions by hash: %w", err)
	}
	return count > 0, nil
}

// --- allocations ---

func (r *SQLiteRepository) Allocation(ctx context.Context, id int64) (core.Allocation, error) {
	var a core.Allocation
	err := r.q.QueryRowContext(ctx,
		`SELECT id, transaction_id, budget_item_id, amount_cents, note FROM allocations WHERE id = ?`, id).
		Scan(&a.ID, &a.TransactionID, &a.BudgetItemID, &a.Amount.Cents, &a.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Allocation{}, fmt.Errorf("allocation %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Allocation{}, fmt.Errorf("fetch allocation %d: %w", id, err)
	}
	return a, nil
}

func (r *SQLiteRepository) AllocationsForTransaction(ctx context.Context, transactionID int64) ([]core.Allocation, error) {
	return r.allocationsWhere(ctx, "transaction_id", transactionID)
}

func (r *SQLiteRepository) AllocationsForBudgetItem(ctx context.Context, budgetItemID int64) ([]core.Allocation, error) {
	return r.allocationsWhere(ctx, "budget_item_id", budgetItemID)
}

func (r *SQLiteRepository) allocationsWhere(ctx context.Context, column string, id int64) ([]core.Allocation, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, transaction_id, budget_item_id, amount_cents, note FROM allocations WHERE `+column+` = ? ORDER BY id`,
		id)
	if err != nil {
		return nil, fmt.Errorf("fetch allocations by %s: %w", column, err)
	}
	defer rows.Close()

	var out []core.Allocation
	for rows.Next() {
		var a core.Allocation
		if err := rows.Scan(&a.ID, &a.TransactionID, &a.BudgetItemID, &a.Amount.Cents, &a.Note); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) InsertAllocation(ctx context.Context, a *core.Allocation) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO allocations (transaction_id, budget_item_id, amount_cents, note) VALUES (?, ?, ?, ?)`,
		a.TransactionID, a.BudgetItemID, a.Amount.Cents, a.Note)
	if err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteRepository) DeleteAllocation(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM allocations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete allocation %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("allocation %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// AccountBalances returns, per account, the sum of allocated amounts under
// the budget.
func (r *SQLiteRepository) AccountBalances(ctx context.Context, budgetID int64) (map[int64]core.Money, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT t.account_id, COALESCE(SUM(a.amount_cents), 0)
		 FROM allocations a
		 JOIN transactions t ON t.id = a.transaction_id
		 JOIN budget_items bi ON bi.id = a.budget_item_id
		 WHERE bi.budget_id = ?
		 GROUP BY t.account_id`, budgetID)
	if err != nil {
		return nil, fmt.Errorf("fetch account balances: %w", err)
	}
	defer rows.Close()

	balances := make(map[int64]core.Money)
	for rows.Next() {
		var accountID, cents int64
		if err := rows.Scan(&accountID, &cents); err != nil {
			return nil, fmt.Errorf("scan account balance: %w", err)
		}
		balances[accountID] = core.Money{Cents: cents}
	}
	return balances, rows.Err()
}

// --- categories ---

func (r *SQLiteRepository) InsertCategory(ctx context.Context, c *core.Category) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO categories (name, color, kind, parent_id) VALUES (?, ?, ?, ?)`,
		c.Name, c.Color, string(c.Kind), nullableID(c.ParentID))
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteRepository) CategoriesByKind(ctx context.Context, kind core.BudgetKind) ([]core.Category, error) {
	return r.categoriesWhere(ctx, `kind = ?`, string(kind))
}

func (r *SQLiteRepository) CategoryRoots(ctx context.Context, kind core.BudgetKind) ([]core.Category, error) {
	return r.categoriesWhere(ctx, `kind = ? AND parent_id IS NULL`, string(kind))
}

func (r *SQLiteRepository) CategoryChildren(ctx context.Context, parentID int64) ([]core.Category, error) {
	return r.categoriesWhere(ctx, `parent_id = ?`, parentID)
}

func (r *SQLiteRepository) categoriesWhere(ctx context.Context, where string, args ...any) ([]core.Category, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, name, color, kind, parent_id FROM categories WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		var parentID sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, (*string)(&c.Kind), &parentID); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.ParentID = parentID.Int64
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- items and tags ---

func (r *SQLiteRepository) InsertAccount(ctx context.Context, a *core.Account) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO accounts (name, number, branch_code, bank, tag_color) VALUES (?, ?, ?, ?, ?)`,
		a.Name, a.Number, a.BranchCode, a.Bank, a.TagColor)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteRepository) InsertItem(ctx context.Context, i *core.Item) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO items (name, kind, category_id) VALUES (?, ?, ?)`,
		i.Name, string(i.Kind), i.CategoryID)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	i.ID, err = res.LastInsertId()
	return err
}

// EnsureTag returns the tag with the normalized name, creating it on first
// use.
func (r *SQLiteRepository) EnsureTag(ctx context.Context, name string) (core.Tag, error) {
	normalized := core.NormalizeTagName(name)
	var tag core.Tag
	err := r.q.QueryRowContext(ctx, `SELECT id, name FROM tags WHERE name = ?`, normalized).
		Scan(&tag.ID, &tag.Name)
	if err == nil {
		return tag, nil
	}
	if err != sql.ErrNoRows {
		return core.Tag{}, fmt.Errorf("fetch tag %q: %w", normalized, err)
	}

	res, err := r.q.ExecContext(ctx, `INSERT INTO tags (name) VALUES (?)`, normalized)
	if err != nil {
		return core.Tag{}, fmt.Errorf("insert tag %q: %w", normalized, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Tag{}, err
	}
	return core.Tag{ID: id, Name: normalized}, nil
}

func (r *SQLiteRepository) TagItem(ctx context.Context, itemID, tagID int64) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO item_tags (item_id, tag_id) VALUES (?, ?)`, itemID, tagID)
	if err != nil {
		return fmt.Errorf("tag item %d with %d: %w", itemID, tagID, err)
	}
	return nil
}

// --- report queries ---

// BudgetItemViews returns, per budget item under the budget, its item's
// category and the current planned and actual amounts. Actual is the sum of
// the item's allocations; items without allocations contribute zero.
func (r *SQLiteRepository) BudgetItemViews(ctx context.Context, budgetID int64) ([]report.ItemView, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT bi.id, i.category_id, bi.planned_cents, COALESCE(SUM(a.amount_cents), 0)
		 FROM budget_items bi
		 JOIN items i ON i.id = bi.item_id
		 LEFT JOIN allocations a ON a.budget_item_id = bi.id
		 WHERE bi.budget_id = ?
		 GROUP BY bi.id, i.category_id, bi.planned_cents
		 ORDER BY bi.id`, budgetID)
	if err != nil {
		return nil, fmt.Errorf("fetch budget item views: %w", err)
	}
	defer rows.Close()

	var out []report.ItemView
	for rows.Next() {
		var v report.ItemView
		if err := rows.Scan(&v.BudgetItemID, &v.CategoryID, &v.Planned.Cents, &v.Actual.Cents); err != nil {
			return nil, fmt.Errorf("scan budget item view: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// TagSetsForBudget returns one tag set per item that has at least one
// budget item under the budget. Items without tags yield no set.
func (r *SQLiteRepository) TagSetsForBudget(ctx context.Context, budgetID int64) ([][]core.Tag, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT it.item_id, t.id, t.name
		 FROM item_tags it
		 JOIN tags t ON t.id = it.tag_id
		 WHERE it.item_id IN (SELECT item_id FROM budget_items WHERE budget_id = ?)
		 ORDER BY it.item_id, t.id`, budgetID)
	if err != nil {
		return nil, fmt.Errorf("fetch tag sets: %w", err)
	}
	defer rows.Close()

	var sets [][]core.Tag
	var currentItem int64 = -1
	for rows.Next() {
		var itemID int64
		var tag core.Tag
		if err := rows.Scan(&itemID, &tag.ID, &tag.Name); err != nil {
			return nil, fmt.Errorf("scan tag set row: %w", err)
		}
		if itemID != currentItem {
			sets = append(sets, nil)
			currentItem = itemID
		}
		sets[len(sets)-1] = append(sets[len(sets)-1], tag)
	}
	return sets, rows.Err()
}

// TagUsage counts, per tag, the items carrying it across the whole catalog.
func (r *SQLiteRepository) TagUsage(ctx context.Context) (map[int64]int, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT tag_id, COUNT(*) FROM item_tags GROUP BY tag_id`)
	if err != nil {
		return nil, fmt.Errorf("fetch tag usage: %w", err)
	}
	defer rows.Close()

	usage := make(map[int64]int)
	for rows.Next() {
		var tagID int64
		var count int
		if err := rows.Scan(&tagID, &count); err != nil {
			return nil, fmt.Errorf("scan tag usage: %w", err)
		}
		usage[tagID] = count
	}
	return usage, rows.Err()
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBudget(row rowScanner) (core.Budget, error) {
	var b core.Budget
	var copyID sql.NullInt64
	if err := row.Scan(&b.ID, &copyID, &b.Name, (*string)(&b.Kind), &b.Hidden); err != nil {
		return core.Budget{}, fmt.Errorf("scan budget: %w", err)
	}
	b.CopyBudgetID = copyID.Int64
	return b, nil
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var tx core.Transaction
	var postedOn string
	var transactedOn sql.NullString
	if err := row.Scan(&tx.ID, &tx.AccountID, &postedOn, &transactedOn,
		&tx.Amount.Cents, &tx.Balance.Cents, &tx.Description, &tx.ContentHash,
		&tx.Allocated, &tx.Manual); err != nil {
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	posted, err := time.Parse(dateLayout, postedOn)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse posted date %q: %w", postedOn, err)
	}
	tx.PostedOn = core.Date{Time: posted}
	if transactedOn.Valid {
		transacted, err := time.Parse(dateLayout, transactedOn.String)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("parse transacted date %q: %w", transactedOn.String, err)
		}
		tx.TransactedOn = core.Date{Time: transacted}
	}
	return tx, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
