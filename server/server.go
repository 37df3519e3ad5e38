package server

import (
	"os"
)

// Server runs the HTTP/websocket listener. The port comes from the
// PORT environment variable so the same binary works under common PaaS
// conventions.
type Server struct{}

func (s *Server) Run(runner interface{ Run(addr ...string) error }) error {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	return runner.Run(":" + port)
}
