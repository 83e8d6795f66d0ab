package main

import (
	"github.com/awnumar/memguard"
	"github.com/joho/godotenv"

	"github.com/flexiant/camanager/cmd/camanager/cmd"
)

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	_ = godotenv.Load()

	cmd.Execute()
}
