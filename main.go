// Package main provides the entry point for ARMSim.
// ARMSim is a functional ARM7TDMI-class simulator with a debugger core.
//
// For the full CLI, use: go run ./cmd/armsim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("ARMSim - ARM7TDMI Simulator")
	fmt.Println("")
	fmt.Println("Usage: armsim [options] <program.json|program.elf>")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -mode        Step mode: into, over, out or run")
	fmt.Println("  -steps       Number of steps to take")
	fmt.Println("  -interrupt   Periodic interrupt as KIND:DELAY:PERIOD")
	fmt.Println("  -config      Path to configuration JSON file")
	fmt.Println("  -v           Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/armsim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/armsim' instead.")
	}
}
