// Package node names the HTTP-facing surface shared by the fetch server's
// auxiliary endpoints.
package node

import "github.com/gin-gonic/gin"

// Node is an addressable component that exposes a gin router.
type Node interface {
	NodeID() string
	Kind() string
	Addr() string
	HTTPRouter() *gin.Engine
}
