package main

import "github.com/Thomah6/fetchyourkeys-go/cli/cmd"

func main() {
	cmd.Execute()
}
