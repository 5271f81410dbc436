package main

import "github.com/coursepulse/notifyd/internal/daemon"

func main() {
	daemon.Main()
}
