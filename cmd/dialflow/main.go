package main

import "github.com/ramiqadoumi/go-dial-flow/cli"

func main() {
	cli.Execute()
}
