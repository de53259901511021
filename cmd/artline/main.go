package main

import "github.com/vietddude/artline/internal/cli"

func main() {
	cli.Execute()
}
