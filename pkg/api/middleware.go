package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const workspaceHeader = "x-workspace-id"

// requireWorkspace rejects any request missing the x-workspace-id
// header, required by every endpoint per the spec, and stashes it in
// the gin context under the same key for handlers to read.
func requireWorkspace(c *gin.Context) {
	workspaceID := c.GetHeader(workspaceHeader)
	if workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": workspaceHeader + " header is required"})
		return
	}
	c.Set(workspaceHeader, workspaceID)
	c.Next()
}

func workspaceID(c *gin.Context) string {
	return c.GetString(workspaceHeader)
}
