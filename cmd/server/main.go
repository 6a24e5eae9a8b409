package main

import "github.com/nguyentranbao-ct/chat-replica/cmd"

func main() {
	cmd.Execute()
}
