package main

import "github.com/AdguardTeam/AdGuardGSB/internal/cmd"

func main() {
	cmd.Main()
}
