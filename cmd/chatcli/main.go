// Command chatcli is a terminal client for the chatsync broker.
package main

func main() {
	Execute()
}
