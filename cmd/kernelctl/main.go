// Command kernelctl is the kernel's operator CLI: verify a stream's hash
// chain, replay a projector over one stream, and inspect a run's current
// state, following the cobra-based root/subcommand split grounded in
// internal/kernelctl.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/codeready-toolchain/agentkernel/internal/kernelctl"
)

func main() {
	cmd := kernelctl.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "kernelctl:", err)
		os.Exit(kernelctl.GetExitCode(err))
	}
}
