package observability

const (
	AttrRunID     = "run.id"
	AttrRunStatus = "run.status"
	AttrTurn      = "run.turn"
	AttrTool      = "tool.name"
	AttrProvider  = "llm.provider"
	AttrModel     = "llm.model"
	AttrError     = "error"
	AttrErrorType = "error.type"
	AttrStage     = "safety.stage"

	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.path"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"

	SpanRun           = "run.execute"
	SpanTurn          = "run.turn"
	SpanLLMRequest    = "run.llm_request"
	SpanToolExecution = "run.tool_execution"
	SpanHTTPRequest   = "http.request"

	DefaultServiceName = "autoagent"
)
