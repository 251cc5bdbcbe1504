package main

import "github.com/jw6ventures/calsync/cmd/calsync/cmd"

func main() {
	cmd.Execute()
}
