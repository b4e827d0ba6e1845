package main

import "github.com/cameronsjo/stackrender/internal/cmd"

func main() {
	cmd.Execute()
}
