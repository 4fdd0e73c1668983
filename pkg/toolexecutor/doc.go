// Package toolexecutor registers and executes the tools the agent may call.
//
// Tools come from catalogs (the Arcade broker, or an MCP server) and are
// registered under their model-facing names. Every call is validated
// against the tool's JSON schema before execution, runs under a timeout,
// and has oversized output truncated.
//
// Usage:
//
//	exec := toolexecutor.New()
//	names, err := exec.RegisterCatalog(ctx, toolexecutor.NewArcadeCatalog(client, logger), toolexecutor.CatalogRequest{
//		Toolkits: []string{"Imgflip"},
//		UserID:   userID,
//		Limit:    100,
//	})
//	result := exec.Execute(ctx, "Imgflip_SearchMemes", map[string]interface{}{"query": "cat"}, nil)
package toolexecutor
