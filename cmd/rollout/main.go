package main

import "github.com/davarch/rollout/cmd/rollout/cli"

func main() {
	cli.Execute()
}
