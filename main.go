package main

import "github.com/theirongolddev/cbuddy/cmd"

func main() {
	cmd.Execute()
}
