package main

import "github.com/derSebastian/ble-printer-probe/internal/cli"

func main() {
	cli.Execute()
}
