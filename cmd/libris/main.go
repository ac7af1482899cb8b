// Command libris is a personal book library with local semantic search.
package main

import "github.com/libris-dev/libris/cmd/libris/cmd"

func main() {
	cmd.Execute()
}
