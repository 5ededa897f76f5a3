/*
	Copyright 2023 Markus Papenbrock
*/

package main

import "github.com/mpapenbr/race-progress/cmd"

func main() {
	cmd.Execute()
}
