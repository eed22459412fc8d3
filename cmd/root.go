package main

import (
	"github.com/spf13/cobra"
)

// orchestrator is the operator-facing CLI: database migrations live here;
// job submission lives in cmd/job, the read-only status API in cmd/admin,
// and the claim/execute loop in cmd/worker.
func main() {
	var root = &cobra.Command{Use: "orchestrator"}

	root.AddCommand(migrateCMD())
	_ = root.Execute()
}
