package observability

const (
	AttrAgentType  = "agent.type"
	AttrToolName   = "tool.name"
	AttrLLMModel   = "llm.model"
	AttrRound      = "agent.round"
	AttrSessionID  = "session.id"
	AttrErrorType  = "error.type"
	AttrStatusCode = "http.status_code"

	SpanAgentRun      = "agent.run"
	SpanAgentRound    = "agent.round"
	SpanLLMRequest    = "agent.llm_request"
	SpanToolExecution = "agent.tool_execution"

	DefaultServiceName = "delver"
)
