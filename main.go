// The main package for the threadharvest executable.
package main

import "github.com/harvesterlabs/threadharvest/cmd"

func main() {
	cmd.Execute()
}
