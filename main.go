package main

import (
	"github.com/loft-sh/wsmaster/cmd"
)

func main() {
	cmd.Execute()
}
