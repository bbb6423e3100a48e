package main

import (
	"github.com/spf13/cobra"
)

var root = &cobra.Command{
	Use:   "alphy",
	Short: "LLM-driven indie app research engine",
}

func main() {
	root.AddCommand(serveCMD(), researchCMD())
	_ = root.Execute()
}
