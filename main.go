package main

import "github.com/qarbon/qingest/cmd"

func main() {
	cmd.Execute()
}
