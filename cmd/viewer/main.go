package main

import "github.com/dkeye/Viewing/cmd/viewer/cmd"

func main() {
	cmd.Execute()
}
