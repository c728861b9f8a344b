package main

import (
	"os"

	"github.com/qianyu-bot/qianyu/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
