package main

import (
	"github.com/admi-n/excavator-audit/src/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		cmd.PrintFatal(err)
	}
}
