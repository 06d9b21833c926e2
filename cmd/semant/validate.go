package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nicholaskb/semant/pkg/workflow"
)

type validateResult struct {
	File   string   `json:"file"`
	Name   string   `json:"name,omitempty"`
	Steps  int      `json:"steps"`
	Status string   `json:"status"` // "ok", "error"
	Errors []string `json:"errors,omitempty"`
}

func runValidate(global globalFlags, args []string) {
	if len(args) != 1 {
		fatal(fmt.Errorf("usage: semant validate <file>"))
	}

	result := validateResult{File: args[0], Status: "ok"}
	def, err := workflow.Load(args[0])
	if err != nil {
		result.Status = "error"
		result.Errors = append(result.Errors, err.Error())
	} else {
		result.Name = def.Name
		result.Steps = len(def.Steps)
	}

	if global.JSON {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	} else if result.Status == "ok" {
		fmt.Printf("%s: ok (%d steps)\n", result.Name, result.Steps)
	} else {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "%s: %s\n", result.File, e)
		}
	}

	if result.Status != "ok" {
		os.Exit(1)
	}
}
