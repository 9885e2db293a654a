package main

import "github.com/sbsched/sbs/internal/cmd"

func main() {
	cmd.Execute()
}
