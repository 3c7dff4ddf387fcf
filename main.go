// apex-go - Active code Path EXtractor driver.
//
// apex-go builds the smallest executable that still reaches a chosen source
// location: it compiles a C program to LLVM IR, checks that the entry
// function has a call path to the target, and runs the APEX pass to prune
// everything else.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/apex-go/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
