package log

// Common field names for structured logging
const (
	FieldComponent      = "component"
	FieldRequestID      = "request_id"
	FieldClientIP       = "client_ip"
	FieldMethod         = "method"
	FieldPath           = "path"
	FieldStatusCode     = "status_code"
	FieldDuration       = "duration_ms"
	FieldError          = "error"
	FieldOperation      = "operation"
	FieldUserID         = "user_id"
	FieldCounterpartyID = "counterparty_id"
	FieldTransactionID  = "transaction_id"
	FieldGroupID        = "group_id"
	FieldAmountCents    = "amount_cents"
	FieldNetCents       = "net_cents"
	FieldPage           = "page"
	FieldCount          = "count"
	FieldComputedAt     = "computed_at"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentLedger  = "ledger"
	ComponentStore   = "store"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentCache   = "cache"
)

// Operations defines standard operation names
const (
	OpRefresh   = "refresh"
	OpAggregate = "aggregate"
	OpCreate    = "create"
	OpDelete    = "delete"
	OpSettle    = "settle"
	OpSplit     = "split"
	OpList      = "list"
	OpValidate  = "validate"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)
