package main

import "github.com/dhcgn/mailbox-to-mbox/cmd"

func main() {
	cmd.Execute()
}
