package main

import "github.com/vovakirdan/deltaconn-go/cmd/deltaclient/cli"

func main() {
	cli.Execute()
}
