package main

import "github.com/tidewaterlabs/moobot/cmd"

func main() {
	cmd.Execute()
}
