// Package runner runs one natural-language query through a langchaingo
// ReAct agent equipped with the Mesh platform's tools.
//
// Every tool is wrapped in the tool.WithLogging decorator when the tool set
// is built, so each invocation appends a start and an end record to the
// tool call log. Nothing is patched process-wide: tools created elsewhere
// are not affected.
//
// The reasoning loop itself is langchaingo's agents.Executor; this package
// only assembles its inputs:
//
//	platform tools → tool.WithLoggingAll → tool.LangChainAll
//	model.New + prompt.Hub.Pull(prompt.ReActKey) → agents.NewOneShotAgent
//	agents.NewExecutor → chains.Call({"input": query})["output"]
//
// Errors are returned wrapped with the step that failed; there is no local
// recovery.
package runner
