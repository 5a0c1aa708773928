package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/paideia-dilemma/tortillas/cmd"
)

func main() {
	if err := cmd.RootCommand.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
