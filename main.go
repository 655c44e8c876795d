package main

import "github.com/jacobluanjohnston/Near/cmd"

func main() {
	cmd.Execute()
}
