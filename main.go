package main

import "github.com/omnihop/router/cmd"

func main() {
	cmd.Execute()
}
