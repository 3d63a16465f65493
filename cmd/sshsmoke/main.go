// sshsmoke drives a remote-shell client through a scripted login and checks
// that the remote side answers with a rendered terminal UI.
package main

import "os"

// Version information - set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	execute(newRootCmd(defaultDeps()), os.Args[1:])
}
