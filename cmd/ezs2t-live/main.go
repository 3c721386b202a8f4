package main

import (
	"fmt"
	"os"

	"golang.design/x/hotkey/mainthread"

	"github.com/yok-tottii/ezs2t-live/internal/cli"
)

func main() {
	// macOSのホットキーはメインスレッドのイベントループが必要
	mainthread.Init(func() {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	})
}

func run() error {
	deps := &cli.Dependencies{}
	defer deps.Close()

	return cli.NewRootCmd(deps).Execute()
}
