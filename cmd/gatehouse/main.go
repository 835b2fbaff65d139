package main

import "github.com/pbartlett/gatehouse/cmd/gatehouse/cmd"

func main() {
	cmd.Execute()
}
