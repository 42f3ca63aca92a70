// The main package for the kbcrawl executable.
package main

import (
	"github.com/kbcrawl/kbcrawl/cmd"
)

func main() {
	cmd.Execute()
}
