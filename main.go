package main

import "atendigram/cmd"

func main() {
	cmd.Execute()
}
