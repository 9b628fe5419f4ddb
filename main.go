package main

import "github.com/coffasm/coffasm/cmd"

func main() {
	cmd.Execute()
}
