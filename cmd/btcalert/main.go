package main

import "btcalert/internal/cli"

func main() {
	cli.Execute()
}
