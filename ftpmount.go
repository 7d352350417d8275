// ftpmount mounts FTP and FTPS servers as a local filesystem
package main

import (
	"github.com/ftpmount/ftpmount/cmd"
)

func main() {
	cmd.Main()
}
