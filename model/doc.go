// Package model selects the chat model that drives the reasoning loop.
//
// Providers implement langchaingo's llms.Model so they plug straight into
// langchaingo agents and chains:
//   - model/openai wraps openai-go (also usable against any OpenAI-compatible
//     endpoint such as the Mesh gateway)
//   - model/anthropic wraps anthropic-sdk-go
//
// New picks one by name from configuration.
package model
