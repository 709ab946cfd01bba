package main

import "spot-price-alerts/internal/cli"

func main() {
	cli.Execute()
}
