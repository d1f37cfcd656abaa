// The main package for the docket-scraper executable.
package main

import (
	"github.com/JakeFAU/docket-scraper/cmd"
)

func main() {
	cmd.Execute()
}
