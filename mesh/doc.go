// Package mesh is the Go client for the Mesh agent platform.
//
// A Client lists the agents, tools and chat models visible to a credential,
// calls agents and tools, and runs chat completions (plain or streamed)
// through the gateway's OpenAI-compatible endpoint:
//
//	client, err := mesh.NewClient(apiKey)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	agents, err := client.ListAgents(ctx)
//
// Errors fall into three types: *AuthenticationError (401/403), *APIError
// (any other non-2xx status) and *SDKError (client side failures). All of
// them match ErrSDK with errors.Is.
//
// Tool descriptors convert into tool.Tool values with AsTools, ready to be
// decorated (tool.WithLogging) and handed to a langchaingo agent
// (tool.LangChainAll).
package mesh
