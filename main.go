package main

import (
	"log/slog"
	"os"

	"herbitect/connection"
)

func main() {
	if err := connection.StartServer(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
