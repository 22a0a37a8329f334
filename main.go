// The main package for the citecrawler executable.
package main

import (
	"github.com/JakeFAU/snp-citation-crawler/cmd"
)

func main() {
	cmd.Execute()
}
