package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldCorrelationID identifies a chain of chunk invocations belonging
	// to one import job, threaded through every chained/retried call
	FieldCorrelationID = "correlation_id"

	// FieldJobID is the import job ID
	FieldJobID = "job_id"

	// FieldTaskID is the enrichment task ID
	FieldTaskID = "task_id"

	// FieldStage is the enrichment stage name
	FieldStage = "stage"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldSupplierID is the supplier identifier
	FieldSupplierID = "supplier_id"

	// FieldUserID is the user ID
	FieldUserID = "user_id"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
