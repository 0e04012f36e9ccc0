package domain

import "github.com/gin-gonic/gin"

// BackendHttpHandler handles one route of the backend HTTP API.
type BackendHttpHandler interface {
	HandleRequest(c *gin.Context)
}

// Server is the backend HTTP server.
type Server interface {
	// Serve is a blocking call that runs the HTTP server and the status
	// push routine.
	Serve() error

	// Shutdown stops the background executor and the push routine.
	Shutdown()
}
