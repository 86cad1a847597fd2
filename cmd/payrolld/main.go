package main

import "github.com/xrpl-payroll/payrolld/internal/cli"

func main() {
	cli.Execute()
}
