// Package main is the entry point for apikit.
package main

func main() {
	Execute()
}
