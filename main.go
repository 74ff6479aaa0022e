package main

import (
	"github.com/pulseapm/pulse-go/pkg/cmd"
)

func main() {
	cmd.Execute()
}
