package main

import "github.com/nextlevelbuilder/framegrab/cmd"

func main() {
	cmd.Execute()
}
