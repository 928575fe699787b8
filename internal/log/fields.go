package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldBudgetID      = "budget_id"
	FieldBudgetItemID  = "budget_item_id"
	FieldTransactionID = "transaction_id"
	FieldAllocationID  = "allocation_id"
	FieldCategoryID    = "category_id"
	FieldAccountID     = "account_id"
	FieldAmountCents   = "amount_cents"
	FieldProfileCount  = "profile_count"
	FieldExportRef     = "export_ref"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentLedger  = "ledger"
	ComponentCloner  = "cloner"
	ComponentReport  = "report"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentExport  = "export"
	ComponentCache   = "cache"
)

// Operations defines standard operation names
const (
	OpAllocate  = "allocate"
	OpRelease   = "release"
	OpClone     = "clone"
	OpRecompute = "recompute"
	OpExport    = "export"
)
