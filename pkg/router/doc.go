// Package router is the HTTP router of the kernel's web surface. It
// matches methods and path patterns, extracts parameters and runs
// middleware around every matched handler.
//
// Patterns are made of literal segments, named parameters and an optional
// trailing wildcard:
//
//	/api/processes
//	/api/processes/:pid
//	/api/processes/:pid/signal/:name
//	/api/files/*path
//
// Example usage:
//
//	r := router.New()
//	r.Use(router.RequestID(), router.Logging(log), router.Recovery(log))
//	r.GET("/api/processes/:pid", handler)
//	pid := router.Param(req, "pid")
package router
