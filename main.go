// Command blackwidow runs the CLI defined in package cmd.
package main

import "github.com/justforfun1323/blackwidow/cmd"

func main() {
	cmd.Execute()
}
