package main

import "github.com/ccpvault00/isyntax2tiff/cmd"

func main() {
	cmd.Execute()
}
