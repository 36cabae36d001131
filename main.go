package main

import "github.com/lovelysystems/pybuild/cmd"

func main() {
	cmd.Execute()
}
