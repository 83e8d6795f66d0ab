package cmd

import (
	"fmt"
)

const banner = `
   ___   _   __  __                              
  / __| /_\ |  \/  |__ _ _ _  __ _ __ _ ___ _ _ 
 | (__ / _ \| |\/| / _' | ' \/ _' / _' / -_) '_|
  \___/_/ \_\_|  |_\__,_|_||_\__,_\__, \___|_|  
                                  |___/         
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Certificate Authority Service - Version %s\x1b[0m\n\n", Version)
}
