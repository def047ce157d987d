// Package main is the posegt command.
package main

import (
	"log"
	"os"

	"github.com/posegt/posegt/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
