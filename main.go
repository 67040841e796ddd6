package main

import "codeassist/cmd"

func main() {
	cmd.Execute()
}
