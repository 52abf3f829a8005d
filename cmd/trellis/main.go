// Command trellis schedules dependency-ordered tasks over an issue tracker.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
