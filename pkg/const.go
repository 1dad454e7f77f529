package pkg

const (
	HeaderTraceId   string = "X-Trace-Id"
	HeaderRequestId string = "X-Request-Id"
)

const (
	TraceId   string = "trace_id"
	RequestId string = "request_id"
	EventId   string = "event_id"
)

// DefaultCurrency is assumed when an inbound transaction omits the currency code.
const DefaultCurrency = "INR"

type VerdictStatus string

const (
	VerdictStatusClean   VerdictStatus = "clean"
	VerdictStatusSuspect VerdictStatus = "suspect"
)
