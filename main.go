package main

import "github.com/letsgohq/letsgo/cmd"

func main() {
	cmd.Execute()
}
