package main

import "github.com/studyflowlab/studyflow/cmd"

func main() {
	cmd.Execute()
}
