// Command planward is the gated pipeline for machine-generated change plans:
// generation with self-correction, semantic grounding, human approval, hash-
// chained auditing, and webhook event dispatch.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
