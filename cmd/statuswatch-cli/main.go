package main

import (
	"statuswatch-backend/cmd/statuswatch-cli/commands"
	"statuswatch-backend/lib/logutil"
	"statuswatch-backend/lib/serviceutil"
)

func main() {
	logutil.Init(false)
	commands.ExecuteContext(serviceutil.SignalContext())
}
