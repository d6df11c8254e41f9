// Package prompts contains the LLM prompt text used by template-agent.
//
// Prompt text is Go code rather than config files because it is program
// logic: it benefits from compile-time embedding and can be validated by
// tests. Each prompt gets an exported function returning the final string.
package prompts
