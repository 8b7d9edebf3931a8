// Package node wires the codec, dispatcher, router, supplier and HTTP adapter
// into one tracing node and runs it.
package node

import "github.com/gin-gonic/gin"

// Node is a process that serves the HTTP surface.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}
