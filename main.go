package main

import "audio-frames/cmd"

func main() {
	cmd.Execute()
}
