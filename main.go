package main

import "photo-fusion/cmd"

func main() {
	cmd.Execute()
}
