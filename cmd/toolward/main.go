// Command toolward is the tool-call approval pipeline CLI.
package main

import "github.com/toolward/toolward/cmd/toolward/cmd"

func main() {
	cmd.Execute()
}
