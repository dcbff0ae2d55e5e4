package main

import "github.com/youmna-rabie/aegis/internal/cli"

func main() {
	cli.Execute()
}
